// Package am loads datagraph configuration: built-in defaults, then TOML
// files merged system < user < project, then DATAGRAPH_* environment
// variables.
package am

// Config represents the datagraph configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log" toml:"log"`
	Persistence PersistenceConfig `mapstructure:"persistence" toml:"persistence"`
	Identity    IdentityConfig    `mapstructure:"identity" toml:"identity"`
	Schema      SchemaConfig      `mapstructure:"schema" toml:"schema"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON      bool `mapstructure:"json" toml:"json"`           // JSON output instead of console
	Verbosity int  `mapstructure:"verbosity" toml:"verbosity"` // 0 = warnings, 1 = info, 2 = debug
}

// Persistence backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendREST   = "rest"
)

// PersistenceConfig selects and configures the persistence proxy
type PersistenceConfig struct {
	Backend  string         `mapstructure:"backend" toml:"backend"` // memory, sqlite or rest
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	REST     RESTConfig     `mapstructure:"rest" toml:"rest"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// RESTConfig configures the HTTP persistence proxy
type RESTConfig struct {
	BaseURL           string  `mapstructure:"base_url" toml:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second"` // 0 = unlimited
	Burst             int     `mapstructure:"burst" toml:"burst"`
	AllowPrivate      bool    `mapstructure:"allow_private" toml:"allow_private"` // permit localhost and private networks
}

// IdentityConfig configures the model identity cache
type IdentityConfig struct {
	Eviction         string `mapstructure:"eviction" toml:"eviction"` // none or weak
	ReleaseOnDestroy bool   `mapstructure:"release_on_destroy" toml:"release_on_destroy"`
}

// SchemaConfig lists the schema files loaded by the CLI
type SchemaConfig struct {
	Paths []string `mapstructure:"paths" toml:"paths"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
