// Package config loads equipstat settings from the environment, with an
// optional flat YAML file as a fallback source. Every field is tagged with
// the variable that sets it; Load fails on the first invalid combination so
// the process never starts half-configured.
package config

import (
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig covers the HTTP listener and its timeouts.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envAlt:"PORT" default:"8000"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds how long in-flight requests get after SIGTERM.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is applied per request by middleware; PDF and export
	// handlers run under it too.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig sizes the pgx pool.
type DatabaseConfig struct {
	// URL is a postgres:// DSN. DB_URL is accepted for older deployments.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig governs CSV ingestion and dataset retention.
type UploadConfig struct {
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"` // bytes

	// MaxConcurrent uploads share MaxWaitTime to obtain a slot before the
	// request is rejected with 429.
	MaxConcurrent int           `env:"UPLOAD_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"UPLOAD_TIMEOUT" default:"2m"`

	// RetainPerUser is the number of newest datasets kept per owner.
	RetainPerUser int `env:"UPLOAD_RETAIN_PER_USER" default:"5"`

	// StorageDir holds the raw CSV bytes of every retained dataset.
	// SweepInterval controls how often orphaned files there are removed.
	StorageDir    string        `env:"UPLOAD_STORAGE_DIR" default:"./data"`
	SweepInterval time.Duration `env:"UPLOAD_SWEEP_INTERVAL" default:"1h"`
}

// RateLimitConfig sets per-client request budgets, counted per minute.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	UploadLimit       int  `env:"RATE_LIMIT_UPLOAD" default:"10"` // upload and preview
}

// SecurityConfig covers tokens, headers and proxy trust.
type SecurityConfig struct {
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
	EnableCSP      bool     `env:"SECURITY_ENABLE_CSP" default:"true"`

	// JWTSecret signs HS256 access tokens; SECRET_KEY is the legacy name.
	JWTSecret         string        `env:"JWT_SECRET" envAlt:"SECRET_KEY" required:"true"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" default:"24h"`
	AllowRegistration bool          `env:"ALLOW_REGISTRATION" default:"true"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	Format string `env:"LOG_FORMAT" default:"text"` // text|json
}

// Addr is the host:port the server listens on.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
