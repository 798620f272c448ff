// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

// Package config loads TradeBlocks configuration from layered sources
// (built-in defaults, optional YAML file, environment variables) using
// Koanf v2, and resolves the database resource limits applied at
// connection-open time.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// DatabaseFileName is the well-known database file name inside the data
// directory.
const DatabaseFileName = "tradeblocks.duckdb"

// Config is the root configuration for a TradeBlocks invocation.
type Config struct {
	// DataDir is where the database file and its lock artifact live.
	DataDir  string         `koanf:"data_dir"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path overrides the default <data_dir>/tradeblocks.duckdb location.
	Path string `koanf:"path"`

	// MaxMemory and Threads are free-form override strings; they are
	// parsed and validated by ResolveResourceLimits so that a malformed
	// value degrades to a default instead of failing startup.
	MaxMemory string `koanf:"max_memory"` // DuckDB memory ceiling, e.g. "2GB"
	Threads   string `koanf:"threads"`    // empty or "0" = use runtime.NumCPU()

	// LockGracePeriod bounds how long recovery waits for an orphaned lock
	// holder to exit after a termination signal.
	LockGracePeriod time.Duration `koanf:"lock_grace_period"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Database: DatabaseConfig{
			Path:            "", // derived from DataDir when empty
			MaxMemory:       DefaultMaxMemory,
			Threads:         "",
			LockGracePeriod: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DatabasePath returns the resolved database file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, DatabaseFileName)
}

// LockPath returns the lock artifact path colocated with the database file.
func (c *Config) LockPath() string {
	return c.DatabasePath() + ".lock"
}

// Validate checks configuration consistency. Resource limit values are not
// validated here: malformed limits degrade to defaults with a warning
// instead of failing startup (see ResolveResourceLimits).
func (c *Config) Validate() error {
	if c.DataDir == "" && c.Database.Path == "" {
		return fmt.Errorf("data_dir is required (set TRADEBLOCKS_DATA_DIR)")
	}
	if c.Database.LockGracePeriod <= 0 {
		return fmt.Errorf("database.lock_grace_period must be positive, got %s", c.Database.LockGracePeriod)
	}
	return nil
}
