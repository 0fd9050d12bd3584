// Package config provides configuration loading and validation for the
// billing server.
//
// Configuration comes from an optional YAML file, then CARE_BILLING_*
// environment variables, then defaults for whatever is still unset.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/generic"
)

// Environment variables overriding the file.
const (
	EnvDB        = "CARE_BILLING_DB"
	EnvPort      = "CARE_BILLING_PORT"
	EnvLogLevel  = "CARE_BILLING_LOG_LEVEL"
	EnvLogFormat = "CARE_BILLING_LOG_FORMAT"
	EnvTimezone  = "CARE_BILLING_TIMEZONE"
	EnvWorkers   = "CARE_BILLING_WORKERS"
	EnvOnError   = "CARE_BILLING_ON_ERROR"
	EnvHolidays  = "CARE_BILLING_HOLIDAYS"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Billing  BillingConfig  `yaml:"billing"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for an in-memory database
}

// BillingConfig configures draft bill runs.
type BillingConfig struct {
	Timezone string `yaml:"timezone"` // IANA name; calendar days are cut in this zone
	Workers  int    `yaml:"workers"`  // customers billed concurrently
	OnError  string `yaml:"on_error"` // "skip" or "abort"
	Holidays string `yaml:"holidays"` // "none" or "fr"

	// AutoClose confirms the previous month's run in the background.
	AutoClose     bool          `yaml:"auto_close"`
	CloseInterval time.Duration `yaml:"close_interval"`
}

// Location loads the configured time zone.
func (b BillingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("billing.timezone: %w", err)
	}
	return loc, nil
}

// Calendar returns the configured public holiday calendar.
func (b BillingConfig) Calendar() generic.HolidayCalendar {
	if b.Holidays == "fr" {
		return generic.FrenchCalendar{}
	}
	return generic.NoHolidays{}
}

// FailurePolicy returns the configured per-customer failure policy.
func (b BillingConfig) FailurePolicy() billing.FailurePolicy {
	return billing.FailurePolicy(b.OnError)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// NewLogger builds a zerolog logger writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if l.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether metrics are exposed. Defaults to true.
func (m MetricsConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// Load reads configuration from a YAML file. An empty path skips the file
// and uses environment variables and defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies CARE_BILLING_* environment variables. They
// always override the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDB); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		cfg.Billing.Timezone = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Billing.Workers = n
		}
	}
	if v := os.Getenv(EnvOnError); v != "" {
		cfg.Billing.OnError = strings.ToLower(v)
	}
	if v := os.Getenv(EnvHolidays); v != "" {
		cfg.Billing.Holidays = strings.ToLower(v)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "billing.db"
	}

	if cfg.Billing.Timezone == "" {
		cfg.Billing.Timezone = "UTC"
	}
	if cfg.Billing.Workers == 0 {
		cfg.Billing.Workers = 4
	}
	if cfg.Billing.OnError == "" {
		cfg.Billing.OnError = string(billing.SkipCustomer)
	}
	if cfg.Billing.Holidays == "" {
		cfg.Billing.Holidays = "none"
	}
	if cfg.Billing.CloseInterval == 0 {
		cfg.Billing.CloseInterval = time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Billing.Workers < 1 {
		return fmt.Errorf("billing.workers must be at least 1, got %d", c.Billing.Workers)
	}
	if !c.Billing.FailurePolicy().Valid() {
		return fmt.Errorf("billing.on_error must be 'skip' or 'abort', got %q", c.Billing.OnError)
	}
	if c.Billing.Holidays != "none" && c.Billing.Holidays != "fr" {
		return fmt.Errorf("billing.holidays must be 'none' or 'fr', got %q", c.Billing.Holidays)
	}
	if c.Billing.CloseInterval < time.Minute {
		return fmt.Errorf("billing.close_interval must be at least 1m, got %s", c.Billing.CloseInterval)
	}
	if _, err := c.Billing.Location(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}
