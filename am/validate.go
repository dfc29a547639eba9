package am

import (
	"net/url"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/model"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Log.Verbosity < 0 {
		return errors.Newf("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	switch c.GetBackend() {
	case BackendMemory, BackendSQLite:
	case BackendREST:
		if c.Persistence.REST.BaseURL == "" {
			return errors.New("persistence.rest.base_url cannot be empty when backend is rest")
		}
		u, err := url.Parse(c.Persistence.REST.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Newf("persistence.rest.base_url must be an http(s) URL, got %q", c.Persistence.REST.BaseURL)
		}
	default:
		return errors.Newf("persistence.backend must be one of memory, sqlite, rest, got %q", c.Persistence.Backend)
	}

	// Timeout: 0 = use default, negative = invalid
	if c.Persistence.REST.TimeoutSeconds < 0 {
		return errors.Newf("persistence.rest.timeout_seconds must be >= 0, got %d", c.Persistence.REST.TimeoutSeconds)
	}
	// Rate: 0 = unlimited, negative = invalid
	if c.Persistence.REST.RequestsPerSecond < 0 {
		return errors.Newf("persistence.rest.requests_per_second must be >= 0, got %f", c.Persistence.REST.RequestsPerSecond)
	}
	if c.Persistence.REST.RequestsPerSecond > 0 && c.Persistence.REST.Burst <= 0 {
		return errors.Newf("persistence.rest.burst must be > 0 when rate limited, got %d", c.Persistence.REST.Burst)
	}

	if _, err := model.ParseEvictionPolicy(c.Identity.Eviction); err != nil {
		return errors.Wrap(err, "identity.eviction")
	}

	return nil
}
