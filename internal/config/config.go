// Package config loads daemon and CLI configuration from file,
// environment, and flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// Workspace holds the page-database API settings.
	Workspace WorkspaceConfig `mapstructure:"workspace"`

	// Store holds the Postgres settings.
	Store StoreConfig `mapstructure:"store"`

	// Google holds the provider settings.
	Google GoogleConfig `mapstructure:"google"`

	// Daemon holds the scheduler settings.
	Daemon DaemonConfig `mapstructure:"daemon"`

	// Server holds the HTTP trigger surface settings.
	Server ServerConfig `mapstructure:"server"`

	// MappingFile is an optional YAML property-mapping table that
	// overrides the built-in one. Hot-reloaded when it changes.
	MappingFile string `mapstructure:"mapping_file"`

	// OplogPath is the local operation log file.
	OplogPath string `mapstructure:"oplog_path"`
}

type WorkspaceConfig struct {
	// Token is the integration token.
	Token string `mapstructure:"token"`
	// Databases maps entity db keys to database ids.
	Databases map[string]string `mapstructure:"databases"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type GoogleConfig struct {
	// Enabled turns the provider feeds on. Provider entities are
	// skipped when false.
	Enabled bool `mapstructure:"enabled"`
	// ConfigDir holds credentials.json and token.json.
	ConfigDir string `mapstructure:"config_dir"`
}

type DaemonConfig struct {
	// IncrementalInterval is how often windowed passes run.
	IncrementalInterval time.Duration `mapstructure:"incremental_interval"`
	// FullInterval is how often full passes run.
	FullInterval time.Duration `mapstructure:"full_interval"`
	// LogFile receives daemon logs; empty means stderr only.
	LogFile string `mapstructure:"log_file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration. path may be empty, in which case only
// defaults, the standard locations, and the environment apply.
// Environment variables use the LIFESYNC_ prefix with underscores, e.g.
// LIFESYNC_WORKSPACE_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("lifesync")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/lifesync")
		v.AddConfigPath("/etc/lifesync")
	}

	v.SetEnvPrefix("LIFESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("daemon.incremental_interval", 5*time.Minute)
	v.SetDefault("daemon.full_interval", 24*time.Hour)
	v.SetDefault("server.addr", "127.0.0.1:8600")
	v.SetDefault("oplog_path", ".lifesync/oplog.db")
	v.SetDefault("google.enabled", true)
	v.SetDefault("google.config_dir", "$HOME/.config/lifesync")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a pass cannot run without.
func (c *Config) Validate() error {
	if c.Workspace.Token == "" {
		return fmt.Errorf("workspace.token is required")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Daemon.IncrementalInterval <= 0 {
		return fmt.Errorf("daemon.incremental_interval must be positive")
	}
	if c.Daemon.FullInterval < c.Daemon.IncrementalInterval {
		return fmt.Errorf("daemon.full_interval must not be shorter than the incremental interval")
	}
	return nil
}
