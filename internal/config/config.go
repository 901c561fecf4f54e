// Package config loads runtime settings from DIRREPL_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings shared by every command.
type Config struct {
	// DBPath is the SQLite database holding the directory and the ledger.
	DBPath string `env:"DIRREPL_DB" envDefault:"dirrepl.db"`

	// SchemaFile is an optional object-class file (.yaml, .yml or .cue)
	// layered on the built-in classes.
	SchemaFile string `env:"DIRREPL_SCHEMA"`

	// DeletedObjectsDN is the container tombstones live under.
	DeletedObjectsDN string `env:"DIRREPL_DELETED_OBJECTS_DN" envDefault:"cn=Deleted Objects,dc=vmware,dc=com"`

	// MaxRetries is the number of attempts per backend call on transient
	// failures.
	MaxRetries uint `env:"DIRREPL_MAX_RETRIES" envDefault:"5"`

	// RetryInterval is the wait between attempts.
	RetryInterval time.Duration `env:"DIRREPL_RETRY_INTERVAL" envDefault:"20ms"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `env:"DIRREPL_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries == 0 {
		return Config{}, fmt.Errorf("DIRREPL_MAX_RETRIES must be at least 1")
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
