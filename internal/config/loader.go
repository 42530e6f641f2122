package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// lookupFunc resolves a single configuration key.
type lookupFunc func(key string) (string, bool)

// Load builds a Config from the process environment, filling defaults and
// validating the result.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

// LoadFile reads configuration from environment variables, falling back to
// the YAML file at path for anything the environment leaves unset. The file
// is a flat mapping keyed by environment variable name:
//
//	SERVER_PORT: 9000
//	TRUSTED_PROXIES: [10.0.0.0/8, 192.168.0.0/16]
//
// An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}

	file, err := readYAML(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	return load(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	})
}

func load(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// readYAML flattens a YAML mapping into string values. Sequences become
// comma-separated lists so they parse like their environment counterparts.
func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[k] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("parse config file: key %s: nested mappings are not supported", k)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// loadStruct walks v depth-first and assigns every field carrying an env tag.
func loadStruct(v reflect.Value, lookup lookupFunc) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if f.Type.Kind() == reflect.Struct && f.Type != timeType {
			if err := loadStruct(fv, lookup); err != nil {
				return err
			}
			continue
		}

		key := f.Tag.Get("env")
		if key == "" {
			continue
		}
		raw := resolve(lookup, key, f.Tag.Get("envAlt"))
		if raw == "" {
			if f.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", key)
			}
			raw = f.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", key, raw, err)
		}
	}
	return nil
}

// resolve returns the first non-empty value of key or alt.
func resolve(lookup lookupFunc, key, alt string) string {
	if v, _ := lookup(key); v != "" || alt == "" {
		return v
	}
	v, _ := lookup(alt)
	return v
}

// assign parses raw into fv according to its kind.
func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", fv.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		fv.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

// check is one validation rule; msg is reported when ok is false.
type check struct {
	ok  bool
	msg string
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate reports every rule c violates in a single error.
func (c *Config) Validate() error {
	db, srv, up, sec, lg := c.Database, c.Server, c.Upload, c.Security, c.Logging

	checks := []check{
		{db.URL != "", "DATABASE_URL is required"},
		{db.MaxConns >= db.MinConns, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)},
		{db.MaxConns > 0, "DB_MAX_CONNS must be positive"},
		{db.MinConns >= 0, "DB_MIN_CONNS must be non-negative"},

		{srv.Port > 0 && srv.Port <= 65535, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", srv.Port)},
		{srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative"},
		{srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive"},

		{up.MaxFileSize > 0, "UPLOAD_MAX_FILE_SIZE must be positive"},
		{up.MaxConcurrent > 0, "UPLOAD_MAX_CONCURRENT must be positive"},
		{up.MaxWaitTime > 0, "UPLOAD_MAX_WAIT_TIME must be positive"},
		{up.Timeout > 0, "UPLOAD_TIMEOUT must be positive"},
		{up.RetainPerUser > 0, "UPLOAD_RETAIN_PER_USER must be positive"},
		{up.StorageDir != "", "UPLOAD_STORAGE_DIR is required"},
		{up.SweepInterval > 0, "UPLOAD_SWEEP_INTERVAL must be positive"},

		{!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled"},

		{len(sec.JWTSecret) >= 16, "JWT_SECRET must be at least 16 characters"},
		{sec.TokenTTL > 0, "TOKEN_TTL must be positive"},

		{slices.Contains(logLevels, strings.ToLower(lg.Level)), fmt.Sprintf("LOG_LEVEL (%q) must be one of: %s", lg.Level, strings.Join(logLevels, ", "))},
		{slices.Contains(logFormats, strings.ToLower(lg.Format)), fmt.Sprintf("LOG_FORMAT (%q) must be one of: %s", lg.Format, strings.Join(logFormats, ", "))},
	}

	var failed []string
	for _, ch := range checks {
		if !ch.ok {
			failed = append(failed, ch.msg)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(failed, "\n  - "))
}

// String returns a safe string representation of the config for logging.
// The database URL and signing secret are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Upload: {MaxFileSize: %d, MaxConcurrent: %d, RetainPerUser: %d, StorageDir: %q}, ",
		c.Upload.MaxFileSize, c.Upload.MaxConcurrent, c.Upload.RetainPerUser, c.Upload.StorageDir)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {JWTSecret: [MASKED], TokenTTL: %s, AllowRegistration: %v}, ",
		c.Security.TokenTTL, c.Security.AllowRegistration)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
