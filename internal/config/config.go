// Package config provides Viper-based configuration loading for the shard server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level shard server settings.
type ServerConfig struct {
	// Name is the cluster-unique shard name, used as the bus origin tag
	// and as the key for load reporting.
	Name string `mapstructure:"name"`
	// MapCatalog is the path to the YAML map catalog file.
	MapCatalog string `mapstructure:"map_catalog"`
	// AutoTerminate enables shutting the process down after the shard has
	// been empty of sessions for AutoTerminateAfter.
	AutoTerminate bool `mapstructure:"auto_terminate"`
	// AutoTerminateAfter is how long the shard must be session-free before
	// auto-terminate fires. Ignored unless AutoTerminate is set.
	AutoTerminateAfter time.Duration `mapstructure:"auto_terminate_after"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// BusConfig holds cluster message bus settings.
type BusConfig struct {
	// URL is the NATS server URL for the cluster bus.
	URL string `mapstructure:"url"`
	// Embedded runs an in-process NATS server instead of connecting to URL.
	// Intended for standalone and development use.
	Embedded bool `mapstructure:"embedded"`
	// EmbeddedHost is the bind address for the embedded server.
	EmbeddedHost string `mapstructure:"embedded_host"`
	// EmbeddedPort is the TCP port for the embedded server. 0 picks a free port.
	EmbeddedPort int `mapstructure:"embedded_port"`
	// StartupTimeout is how long to wait for the bus to accept connections.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

// MaintenanceConfig holds periodic sweep intervals and thresholds.
type MaintenanceConfig struct {
	// SessionIdleTimeout is the inactivity threshold for evicting sessions.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	// SessionSweepInterval is how often the idle-session sweep runs.
	SessionSweepInterval time.Duration `mapstructure:"session_sweep_interval"`
	// InstanceGracePeriod is how long an instance may sit occupant-free
	// before it is terminated and reclaimed.
	InstanceGracePeriod time.Duration `mapstructure:"instance_grace_period"`
	// InstanceSweepInterval is how often the empty-instance sweep runs.
	InstanceSweepInterval time.Duration `mapstructure:"instance_sweep_interval"`
	// ChannelSweepInterval is how often unreferenced chat channels are
	// garbage collected. Channels are cheap to recreate, so this is slow.
	ChannelSweepInterval time.Duration `mapstructure:"channel_sweep_interval"`
	// HeartbeatInterval is how often shard load is reported to the record store.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Bus         BusConfig         `mapstructure:"bus"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBus(c.Bus); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMaintenance(c.Maintenance); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.MapCatalog == "" {
		errs = append(errs, "server.map_catalog must not be empty")
	}
	if s.AutoTerminate && s.AutoTerminateAfter <= 0 {
		errs = append(errs, "server.auto_terminate_after must be > 0 when auto_terminate is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBus(b BusConfig) error {
	var errs []string
	if !b.Embedded && b.URL == "" {
		errs = append(errs, "bus.url must not be empty unless bus.embedded is set")
	}
	if b.Embedded {
		if b.EmbeddedHost == "" {
			errs = append(errs, "bus.embedded_host must not be empty")
		}
		if b.EmbeddedPort < 0 || b.EmbeddedPort > 65535 {
			errs = append(errs, fmt.Sprintf("bus.embedded_port must be 0-65535, got %d", b.EmbeddedPort))
		}
	}
	if b.StartupTimeout <= 0 {
		errs = append(errs, "bus.startup_timeout must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMaintenance(m MaintenanceConfig) error {
	var errs []string
	check := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("maintenance.%s must be > 0", name))
		}
	}
	check("session_idle_timeout", m.SessionIdleTimeout)
	check("session_sweep_interval", m.SessionSweepInterval)
	check("instance_grace_period", m.InstanceGracePeriod)
	check("instance_sweep_interval", m.InstanceSweepInterval)
	check("channel_sweep_interval", m.ChannelSweepInterval)
	check("heartbeat_interval", m.HeartbeatInterval)
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SHARDD_ prefix
	v.SetEnvPrefix("SHARDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "shard-1")
	v.SetDefault("server.map_catalog", "content/maps.yaml")
	v.SetDefault("server.auto_terminate", false)
	v.SetDefault("server.auto_terminate_after", "30m")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "shardd")
	v.SetDefault("database.password", "shardd")
	v.SetDefault("database.name", "shardd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.embedded", false)
	v.SetDefault("bus.embedded_host", "127.0.0.1")
	v.SetDefault("bus.embedded_port", 0)
	v.SetDefault("bus.startup_timeout", "10s")

	v.SetDefault("maintenance.session_idle_timeout", "15m")
	v.SetDefault("maintenance.session_sweep_interval", "1m")
	v.SetDefault("maintenance.instance_grace_period", "5m")
	v.SetDefault("maintenance.instance_sweep_interval", "1m")
	v.SetDefault("maintenance.channel_sweep_interval", "10m")
	v.SetDefault("maintenance.heartbeat_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
