// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"tradeblocks.yaml",
	"tradeblocks.yml",
	"/etc/tradeblocks/config.yaml",
	"/etc/tradeblocks/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TRADEBLOCKS_CONFIG"

// envPrefix is the prefix for all TradeBlocks environment variables.
const envPrefix = "TRADEBLOCKS_"

// Load loads configuration using Koanf v2 with layered sources
// (highest priority wins):
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// TRADEBLOCKS_DATA_DIR       -> data_dir
	// TRADEBLOCKS_DB_MAX_MEMORY  -> database.max_memory
	// TRADEBLOCKS_DB_THREADS     -> database.threads
	// TRADEBLOCKS_LOG_LEVEL      -> logging.level
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envTransformFunc maps environment variable names to koanf config paths.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	switch key {
	case "DATA_DIR":
		return "data_dir"
	case "DB_PATH":
		return "database.path"
	case "DB_MAX_MEMORY":
		return "database.max_memory"
	case "DB_THREADS":
		return "database.threads"
	case "DB_LOCK_GRACE_PERIOD":
		return "database.lock_grace_period"
	case "LOG_LEVEL":
		return "logging.level"
	case "LOG_FORMAT":
		return "logging.format"
	case "CONFIG":
		return "" // handled by findConfigFile, not a config key
	default:
		// Unknown TRADEBLOCKS_* variables are ignored rather than
		// guessed at; a typo must not silently create a config key.
		return ""
	}
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// defaultDataDir returns the per-user data directory used when
// TRADEBLOCKS_DATA_DIR is not set.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".tradeblocks", "data")
}
