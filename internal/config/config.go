// Package config loads paramflow settings from defaults, an optional TOML
// file and PARAMFLOW_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the resolved configuration.
type Config struct {
	// DebounceDelay is how long an edited parameter waits before it is
	// staged into its namespace's change batch.
	DebounceDelay time.Duration `env:"PARAMFLOW_DEBOUNCE_DELAY"`
	AuthToken     string        `env:"PARAMFLOW_AUTH_TOKEN"`
	Log           Log
	Persistence   Persistence
	Blob          Blob
	Metrics       Metrics
	Tracing       Tracing
}

// Log configures the zerolog logger.
type Log struct {
	Level  string `env:"PARAMFLOW_LOG_LEVEL"`
	Format string `env:"PARAMFLOW_LOG_FORMAT"` // console|json
}

// Persistence selects the session value store.
type Persistence struct {
	Driver      string `env:"PARAMFLOW_STORAGE_DRIVER"` // memory|sqlite|postgres
	SQLitePath  string `env:"PARAMFLOW_SQLITE_PATH"`
	PostgresDSN string `env:"PARAMFLOW_POSTGRES_DSN"`
}

// Blob selects the artifact cache backend.
type Blob struct {
	Driver      string `env:"PARAMFLOW_BLOB_DRIVER"` // fs|s3|memory
	FSRoot      string `env:"PARAMFLOW_BLOB_FS_ROOT"`
	BaseURL     string `env:"PARAMFLOW_BLOB_BASE_URL"`
	S3Bucket    string `env:"PARAMFLOW_BLOB_S3_BUCKET"`
	S3Region    string `env:"PARAMFLOW_BLOB_S3_REGION"`
	S3Endpoint  string `env:"PARAMFLOW_BLOB_S3_ENDPOINT"`
	S3PathStyle bool   `env:"PARAMFLOW_BLOB_S3_PATH_STYLE"`
}

// Metrics configures the commit metrics recorder.
type Metrics struct {
	Backend   string `env:"PARAMFLOW_METRICS_BACKEND"` // prometheus|expvar
	Namespace string `env:"PARAMFLOW_METRICS_NAMESPACE"`
}

// Tracing configures spans around commits.
type Tracing struct {
	Enabled     bool   `env:"PARAMFLOW_TRACING_ENABLED"`
	Exporter    string `env:"PARAMFLOW_TRACING_EXPORTER"` // json|otlp
	Endpoint    string `env:"PARAMFLOW_TRACING_ENDPOINT"`
	ServiceName string `env:"PARAMFLOW_TRACING_SERVICE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DebounceDelay: time.Second,
		Log:           Log{Level: "info", Format: "console"},
		Persistence:   Persistence{Driver: "sqlite", SQLitePath: "paramflow.db"},
		Blob:          Blob{Driver: "fs", FSRoot: "./artifacts", S3Region: "us-east-1"},
		Metrics:       Metrics{Backend: "prometheus", Namespace: "paramflow"},
		Tracing:       Tracing{Exporter: "json", ServiceName: "paramflow"},
	}
}

// Load resolves the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target. Fields whose variable
// is unset keep their current value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects unknown drivers and negative delays.
func (c Config) Validate() error {
	if c.DebounceDelay < 0 {
		return fmt.Errorf("debounce delay must not be negative")
	}
	switch c.Persistence.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Persistence.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Metrics.Backend {
	case "prometheus", "expvar":
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend)
	}
	switch c.Tracing.Exporter {
	case "json":
	case "otlp":
		if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp tracing requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}

type fileConfig struct {
	DebounceDelay   string `toml:"debounce_delay"`
	DebounceDelayMS int64  `toml:"debounce_delay_ms"`
	AuthToken       string `toml:"auth_token"`
	Log             struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Persistence struct {
		Driver      string `toml:"driver"`
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"persistence"`
	Blob struct {
		Driver      string `toml:"driver"`
		FSRoot      string `toml:"fs_root"`
		BaseURL     string `toml:"base_url"`
		S3Bucket    string `toml:"s3_bucket"`
		S3Region    string `toml:"s3_region"`
		S3Endpoint  string `toml:"s3_endpoint"`
		S3PathStyle bool   `toml:"s3_path_style"`
	} `toml:"blob"`
	Metrics struct {
		Backend   string `toml:"backend"`
		Namespace string `toml:"namespace"`
	} `toml:"metrics"`
	Tracing struct {
		Enabled     bool   `toml:"enabled"`
		Exporter    string `toml:"exporter"`
		Endpoint    string `toml:"endpoint"`
		ServiceName string `toml:"service_name"`
	} `toml:"tracing"`
}

func applyFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("debounce_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DebounceDelay))
		if err != nil {
			return fmt.Errorf("parse debounce_delay: %w", err)
		}
		cfg.DebounceDelay = d
	}
	if meta.IsDefined("debounce_delay_ms") {
		cfg.DebounceDelay = time.Duration(raw.DebounceDelayMS) * time.Millisecond
	}
	setString(meta, &cfg.AuthToken, raw.AuthToken, "auth_token")

	setString(meta, &cfg.Log.Level, raw.Log.Level, "log", "level")
	setString(meta, &cfg.Log.Format, raw.Log.Format, "log", "format")

	setString(meta, &cfg.Persistence.Driver, raw.Persistence.Driver, "persistence", "driver")
	setString(meta, &cfg.Persistence.SQLitePath, raw.Persistence.SQLitePath, "persistence", "sqlite_path")
	setString(meta, &cfg.Persistence.PostgresDSN, raw.Persistence.PostgresDSN, "persistence", "postgres_dsn")

	setString(meta, &cfg.Blob.Driver, raw.Blob.Driver, "blob", "driver")
	setString(meta, &cfg.Blob.FSRoot, raw.Blob.FSRoot, "blob", "fs_root")
	setString(meta, &cfg.Blob.BaseURL, raw.Blob.BaseURL, "blob", "base_url")
	setString(meta, &cfg.Blob.S3Bucket, raw.Blob.S3Bucket, "blob", "s3_bucket")
	setString(meta, &cfg.Blob.S3Region, raw.Blob.S3Region, "blob", "s3_region")
	setString(meta, &cfg.Blob.S3Endpoint, raw.Blob.S3Endpoint, "blob", "s3_endpoint")
	if meta.IsDefined("blob", "s3_path_style") {
		cfg.Blob.S3PathStyle = raw.Blob.S3PathStyle
	}

	setString(meta, &cfg.Metrics.Backend, raw.Metrics.Backend, "metrics", "backend")
	setString(meta, &cfg.Metrics.Namespace, raw.Metrics.Namespace, "metrics", "namespace")

	if meta.IsDefined("tracing", "enabled") {
		cfg.Tracing.Enabled = raw.Tracing.Enabled
	}
	setString(meta, &cfg.Tracing.Exporter, raw.Tracing.Exporter, "tracing", "exporter")
	setString(meta, &cfg.Tracing.Endpoint, raw.Tracing.Endpoint, "tracing", "endpoint")
	setString(meta, &cfg.Tracing.ServiceName, raw.Tracing.ServiceName, "tracing", "service_name")
	return nil
}

func setString(meta toml.MetaData, dst *string, value string, key ...string) {
	if meta.IsDefined(key...) {
		*dst = strings.TrimSpace(value)
	}
}
