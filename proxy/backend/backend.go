// Package backend opens the persistence store selected in configuration.
package backend

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datagraph/am"
	"github.com/teranos/datagraph/db"
	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/internal/httpclient"
	"github.com/teranos/datagraph/internal/version"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/proxy"
	"github.com/teranos/datagraph/proxy/memproxy"
	"github.com/teranos/datagraph/proxy/restproxy"
	"github.com/teranos/datagraph/proxy/sqlproxy"
)

// Backend is an opened store wrapped as a model proxy, together with the
// resources it holds
type Backend struct {
	*proxy.Adapter
	Name string
	db   *sql.DB
}

// Lister returns the store as a proxy.Lister when it can enumerate records
func (b *Backend) Lister() (proxy.Lister, bool) {
	l, ok := b.Store().(proxy.Lister)
	return l, ok
}

// Close releases the database connection of the sqlite backend
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Open builds the backend selected by cfg.Persistence.Backend. A nil
// logger logs through the global logger.
func Open(cfg *am.Config, log *zap.SugaredLogger) (*Backend, error) {
	if log == nil {
		log = logger.ComponentLogger("proxy")
	}
	b := &Backend{Name: cfg.GetBackend()}

	var store proxy.Store
	switch b.Name {
	case am.BackendMemory:
		store = memproxy.New()
	case am.BackendSQLite:
		conn, err := db.OpenWithMigrations(cfg.GetDatabasePath(), log)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite backend")
		}
		b.db = conn
		store = sqlproxy.New(conn, log.Named("sqlite"))
	case am.BackendREST:
		s, err := restproxy.New(cfg.Persistence.REST.BaseURL, NewHTTPClient(cfg), log.Named("rest"))
		if err != nil {
			return nil, errors.Wrap(err, "open rest backend")
		}
		store = s
	default:
		return nil, errors.Newf("unknown persistence backend %q", b.Name)
	}

	b.Adapter = proxy.New(store, log)
	log.Infow("Persistence backend opened", logger.FieldBackend, b.Name)
	return b, nil
}

// NewHTTPClient builds the client the rest backend talks through
func NewHTTPClient(cfg *am.Config) *httpclient.SaferClient {
	rest := cfg.Persistence.REST
	return httpclient.NewSaferClient(httpclient.Options{
		Timeout:           time.Duration(cfg.GetRESTTimeoutSeconds()) * time.Second,
		AllowPrivate:      rest.AllowPrivate,
		RequestsPerSecond: rest.RequestsPerSecond,
		Burst:             rest.Burst,
		UserAgent:         version.Get().UserAgent(),
	})
}
