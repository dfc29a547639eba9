package am

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default values
const (
	DefaultDatabasePath       = "datagraph.db"
	DefaultRESTTimeoutSeconds = 30
	DefaultRESTBurst          = 1
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)

	v.SetDefault("persistence.backend", BackendMemory)
	v.SetDefault("persistence.database.path", DefaultDatabasePath)
	v.SetDefault("persistence.rest.base_url", "")
	v.SetDefault("persistence.rest.timeout_seconds", DefaultRESTTimeoutSeconds)
	v.SetDefault("persistence.rest.requests_per_second", 0)
	v.SetDefault("persistence.rest.burst", DefaultRESTBurst)
	v.SetDefault("persistence.rest.allow_private", false)

	v.SetDefault("identity.eviction", "none")
	v.SetDefault("identity.release_on_destroy", false)

	v.SetDefault("schema.paths", []string{})
}

// envAliases are short environment names for keys commonly overridden per
// deployment, accepted next to the DATAGRAPH_<SECTION>_<KEY> form
var envAliases = map[string]string{
	"persistence.backend":       "DATAGRAPH_BACKEND",
	"persistence.database.path": "DATAGRAPH_DATABASE_PATH",
	"persistence.rest.base_url": "DATAGRAPH_REST_BASE_URL",
}

// BindSensitiveEnvVars explicitly binds configuration that is commonly
// overridden per deployment to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	for key, env := range envAliases {
		v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Persistence.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Persistence.Database.Path
}

// GetBackend returns the persistence backend (default: memory)
func (c *Config) GetBackend() string {
	if c.Persistence.Backend == "" {
		return BackendMemory
	}
	return c.Persistence.Backend
}

// GetRESTTimeoutSeconds returns the REST request timeout
func (c *Config) GetRESTTimeoutSeconds() int {
	if c.Persistence.REST.TimeoutSeconds == 0 {
		return DefaultRESTTimeoutSeconds
	}
	return c.Persistence.REST.TimeoutSeconds
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Backend: %s, Database: %s, Eviction: %s, Schemas: %d}",
		c.GetBackend(), c.GetDatabasePath(), c.Identity.Eviction, len(c.Schema.Paths))
}
