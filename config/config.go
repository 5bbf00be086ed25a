// Package config loads and validates the YAML configuration for the
// telemetry service. Defaults are applied before validation, so a minimal or
// absent file yields a runnable in-memory development setup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Alirezaa02/webvis-oakd-dashboard/auth"
	"github.com/Alirezaa02/webvis-oakd-dashboard/bus"
	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/store"
)

// Backend selects the durable store implementation.
type Backend string

// Store backends.
const (
	BackendMemory    Backend = "memory"
	BackendPostgres  Backend = "postgres"
	BackendJetStream Backend = "jetstream"
)

// LatestLimits caps how many rows each variant's history read may return.
// Requests asking for more are clamped, not rejected.
type LatestLimits struct {
	Sensor    int `yaml:"sensor"`
	Pose      int `yaml:"pose"`
	Detection int `yaml:"detection"`
	Log       int `yaml:"log"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LatestLimits    LatestLimits  `yaml:"latest_limits"`
}

// StoreConfig selects and configures the durable backend.
type StoreConfig struct {
	Backend   Backend               `yaml:"backend"`
	Postgres  store.PostgresConfig  `yaml:"postgres"`
	JetStream store.JetStreamConfig `yaml:"jetstream"`
	Retention RetentionConfig       `yaml:"retention"`
}

// RetentionConfig is the YAML-facing retention policy.
type RetentionConfig struct {
	Horizon       time.Duration `yaml:"horizon"`
	MaxRows       int           `yaml:"max_rows"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// AuthConfig enables the JWT authorizer. Disabled means every caller is
// authorized, which is only sensible in development.
type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	JWT     auth.JWTConfig `yaml:"jwt"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// SimConfig enables the synthetic sensor generator.
type SimConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig holds slog settings; cmd flags override it.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Bus     bus.Config    `yaml:"bus"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sim     SimConfig     `yaml:"sim"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the development configuration: memory store, open auth,
// metrics on 9090.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
			LatestLimits: LatestLimits{
				Sensor:    60,
				Pose:      30,
				Detection: 10,
				Log:       50,
			},
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Retention: RetentionConfig{
				Horizon:       24 * time.Hour,
				PruneInterval: time.Minute,
			},
		},
		Bus:     bus.DefaultConfig(),
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Sim:     SimConfig{Interval: time.Second},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file over the defaults and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.WrapFatal(err, "config", "Load", "read file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Defaults have already been
// applied, so every failure here is caller error.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return invalid("server.max_body_bytes must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return invalid("store.postgres.dsn required for the postgres backend")
		}
	case BackendJetStream:
		if c.Store.JetStream.URL == "" {
			return invalid("store.jetstream.url required for the jetstream backend")
		}
	default:
		return invalid(fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Store.Retention.Horizon < 0 || c.Store.Retention.MaxRows < 0 {
		return invalid("store.retention bounds must not be negative")
	}

	if c.Auth.Enabled && c.Auth.JWT.Secret == "" {
		return invalid("auth.jwt.secret required when auth is enabled")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}

	for name, limit := range map[string]int{
		"sensor":    c.Server.LatestLimits.Sensor,
		"pose":      c.Server.LatestLimits.Pose,
		"detection": c.Server.LatestLimits.Detection,
		"log":       c.Server.LatestLimits.Log,
	} {
		if limit <= 0 {
			return invalid(fmt.Sprintf("server.latest_limits.%s must be positive", name))
		}
	}
	return nil
}

// Retention converts the YAML policy into the store's form.
func (c *Config) Retention() store.RetentionConfig {
	return store.RetentionConfig{
		Horizon:       c.Store.Retention.Horizon,
		MaxRows:       c.Store.Retention.MaxRows,
		PruneInterval: c.Store.Retention.PruneInterval,
	}
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%s", msg), "config", "Validate", "check configuration")
}
