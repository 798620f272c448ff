// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradeblocks/tradeblocks/internal/logging"
)

func TestResolveResourceLimits(t *testing.T) {
	tests := []struct {
		name       string
		maxMemory  string
		threads    string
		wantMemory string
		wantThread int
	}{
		{"unset values use defaults", "", "", DefaultMaxMemory, 0},
		{"valid overrides kept", "512MB", "4", "512MB", 4},
		{"unit variants accepted", "1.5 GiB", "8", "1.5 GiB", 8},
		{"malformed memory falls back", "lots", "2", DefaultMaxMemory, 2},
		{"unit-less memory falls back", "123", "2", DefaultMaxMemory, 2},
		{"malformed threads fall back", "1GB", "four", "1GB", 0},
		{"negative threads fall back", "1GB", "-3", "1GB", 0},
		{"absurd threads fall back", "1GB", "100000", "1GB", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetResolveOnceForTesting()
			cfg := &Config{Database: DatabaseConfig{MaxMemory: tt.maxMemory, Threads: tt.threads}}

			limits := cfg.ResolveResourceLimits()

			assert.Equal(t, tt.wantMemory, limits.MaxMemory)
			assert.Equal(t, tt.wantThread, limits.Threads)
		})
	}
}

func TestResolveResourceLimitsWarnsOncePerProcess(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	defer logging.SetLogger(prev)

	resetResolveOnceForTesting()
	cfg := &Config{Database: DatabaseConfig{MaxMemory: "bogus", Threads: "nope"}}

	cfg.ResolveResourceLimits()
	first := buf.String()
	assert.Contains(t, first, "invalid memory limit bogus")
	assert.Contains(t, first, "invalid thread count nope")

	// A second resolve in the same process stays silent.
	cfg.ResolveResourceLimits()
	assert.Equal(t, 1, strings.Count(buf.String(), "Resolved database resource limits"))
}
