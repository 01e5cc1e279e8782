// Package config loads the policyctl configuration file.
//
// Configuration is YAML with defaults for every field, so a missing
// file is not an error and a partial file overrides only what it
// names. Command-line flags override the file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full policyctl configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Migration MigrationConfig `yaml:"migration"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	JSON  bool   `yaml:"json"`
}

// MigrationConfig mirrors the engine's run options.
type MigrationConfig struct {
	BatchSize      int  `yaml:"batch_size"`
	SkipDuplicates bool `yaml:"skip_duplicates"`
	CreateBackup   bool `yaml:"create_backup"`
}

// CleanupConfig configures the destructive cleanup phase.
type CleanupConfig struct {
	CreateFinalBackup bool `yaml:"create_final_backup"`
}

// Default returns sane defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "policy-engine.db"},
		Log:      LogConfig{Level: "info"},
		Migration: MigrationConfig{
			BatchSize:      100,
			SkipDuplicates: true,
			CreateBackup:   true,
		},
		Cleanup: CleanupConfig{CreateFinalBackup: true},
	}
}

// Load reads and parses a YAML config file, merged over Default. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration.batch_size must be > 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("unsupported log.level %q (use debug, info, warn or error)", c.Log.Level)
	}
	return nil
}
