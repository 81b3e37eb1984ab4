// Package config loads the validator's configuration from environment
// variables, applying defaults and validating everything on startup so a
// misconfigured deployment fails before it accepts a request.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Upload     UploadConfig
	Validation ValidationConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Export     ExportConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading a request, uploads included (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout bounds writing a response (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is how long running validations get to finish (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// UploadConfig bounds what a single request may submit.
type UploadConfig struct {
	// MaxFileSize is the per-request upload limit in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the number of validation sessions run at once (default: 4)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for a free session (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// ValidationConfig holds rule execution settings.
type ValidationConfig struct {
	// DefaultRuleset is used when a request names none (default: 2024)
	DefaultRuleset string `env:"VALIDATION_DEFAULT_RULESET" default:"2024"`

	// RuleTimeout bounds a single rule; 0 disables the bound (default: 30s)
	RuleTimeout time.Duration `env:"VALIDATION_RULE_TIMEOUT" default:"30s"`

	// PostcodesPath is the postcode reference CSV. Without it geographic
	// fields are not derived and postcode rules fail with missing metadata.
	PostcodesPath string `env:"POSTCODES_PATH"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey enables the X-API-Key check on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For header is honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// Spans logs one debug line per finished trace span (default: false)
	Spans bool `env:"LOG_SPANS" default:"false"`
}

// ExportConfig holds the optional Postgres results sink.
type ExportConfig struct {
	// DatabaseURL enables exporting summaries and details when set
	DatabaseURL string `env:"EXPORT_DATABASE_URL" envAlt:"DATABASE_URL"`

	// MaxConns is the export pool size (default: 4)
	MaxConns int `env:"EXPORT_DB_MAX_CONNS" default:"4"`
}

// Enabled reports whether a results database is configured.
func (c ExportConfig) Enabled() bool { return c.DatabaseURL != "" }

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
