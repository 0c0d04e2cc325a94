// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Haul        HaulConfig      `mapstructure:"haul"`
	Quota       QuotaConfig     `mapstructure:"quota"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Store       StoreConfig     `mapstructure:"store"`
	Events      EventsConfig    `mapstructure:"events"`
	Archive     ArchiveConfig   `mapstructure:"archive"`
	ImportHosts string          `mapstructure:"import_hosts"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	PublicBaseURL         string `mapstructure:"public_base_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxBodyBytes          int64  `mapstructure:"max_body_bytes"`
}

// HaulConfig governs haul lifetime and write retries.
type HaulConfig struct {
	TTLHours    int `mapstructure:"ttl_hours"`
	MaxRetries  int `mapstructure:"max_retries"`
	RetryBaseMs int `mapstructure:"retry_base_ms"`
	RetryMaxMs  int `mapstructure:"retry_max_ms"`
}

// QuotaConfig bounds free haul creation per caller.
type QuotaConfig struct {
	MaxFreeHauls int `mapstructure:"max_free_hauls"`
	WindowHours  int `mapstructure:"window_hours"`
}

// RateLimitConfig throttles write requests per caller. Zero RPS disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// EventsConfig selects where lifecycle events go.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where exports are archived.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HAUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.request_timeout_seconds", 15)
	v.SetDefault("server.max_body_bytes", 5<<20)
	v.SetDefault("haul.ttl_hours", 720)
	v.SetDefault("haul.max_retries", 5)
	v.SetDefault("haul.retry_base_ms", 10)
	v.SetDefault("haul.retry_max_ms", 200)
	v.SetDefault("quota.max_free_hauls", 10)
	v.SetDefault("quota.window_hours", 24)
	v.SetDefault("ratelimit.requests_per_second", 0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.migrate", false)
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "hauls")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "exports")
	v.SetDefault("import_hosts", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "listing-haul")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Haul.TTLHours <= 0 {
		return fmt.Errorf("haul.ttl_hours must be > 0")
	}
	if c.Haul.MaxRetries < 0 {
		return fmt.Errorf("haul.max_retries must be >= 0")
	}
	if c.Haul.RetryBaseMs <= 0 || c.Haul.RetryMaxMs < c.Haul.RetryBaseMs {
		return fmt.Errorf("haul.retry_base_ms must be > 0 and <= haul.retry_max_ms")
	}
	if c.Quota.MaxFreeHauls <= 0 {
		return fmt.Errorf("quota.max_free_hauls must be > 0")
	}
	if c.Quota.WindowHours <= 0 {
		return fmt.Errorf("quota.window_hours must be > 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be >= 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory or postgres", c.Store.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id is required for the pubsub driver")
		}
	default:
		return fmt.Errorf("events.driver %q must be none, memory or pubsub", c.Events.Driver)
	}
	switch c.Archive.Driver {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q must be none, memory, local or gcs", c.Archive.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// HaulTTL returns how long a new haul accepts writes.
func (c Config) HaulTTL() time.Duration {
	return time.Duration(c.Haul.TTLHours) * time.Hour
}

// QuotaWindow returns the rolling window for free haul creation.
func (c Config) QuotaWindow() time.Duration {
	return time.Duration(c.Quota.WindowHours) * time.Hour
}

// RequestTimeout returns the per-request handler deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RetryDelays returns the base and cap of the conflict backoff.
func (c Config) RetryDelays() (time.Duration, time.Duration) {
	return time.Duration(c.Haul.RetryBaseMs) * time.Millisecond, time.Duration(c.Haul.RetryMaxMs) * time.Millisecond
}
