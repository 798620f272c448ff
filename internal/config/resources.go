// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package config

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/tradeblocks/tradeblocks/internal/logging"
)

// Built-in resource limit defaults. Conservative and bounded so a single
// query cannot starve the host machine on typical trade-history volumes.
const (
	DefaultMaxMemory = "2GB"
	DefaultThreads   = 0 // 0 = runtime.NumCPU(), decided at open time

	// maxThreads caps the thread override; values above this are treated
	// as malformed.
	maxThreads = 256
)

// ResourceLimits are the engine limits applied once at first acquire and
// fixed for the process lifetime.
type ResourceLimits struct {
	MaxMemory string
	Threads   int
}

// memoryLimitRe matches DuckDB-style memory strings such as "2GB",
// "512 MiB" or "1.5GB". The unit is mandatory: a bare number is
// ambiguous and is treated as malformed rather than passed through to
// the engine.
var memoryLimitRe = regexp.MustCompile(`(?i)^\s*\d+(\.\d+)?\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)\s*$`)

// resolveOnce ensures the configuration warning is emitted at most once per
// process even if limits are resolved again.
var resolveOnce sync.Once

// ResolveResourceLimits validates the configured limits and substitutes
// built-in defaults for malformed values. Invalid values never block
// startup; they are reported with a non-fatal warning, once per process,
// together with the source that ended up being used.
func (c *Config) ResolveResourceLimits() ResourceLimits {
	limits := ResourceLimits{MaxMemory: c.Database.MaxMemory}

	memorySource := "override"
	threadsSource := "override"
	var warnings []string

	if limits.MaxMemory == "" {
		limits.MaxMemory = DefaultMaxMemory
		memorySource = "default"
	} else if !memoryLimitRe.MatchString(limits.MaxMemory) {
		warnings = append(warnings, "invalid memory limit "+limits.MaxMemory)
		limits.MaxMemory = DefaultMaxMemory
		memorySource = "default"
	}

	switch raw := c.Database.Threads; raw {
	case "", "0":
		limits.Threads = DefaultThreads
		threadsSource = "default"
	default:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxThreads {
			warnings = append(warnings, "invalid thread count "+raw)
			limits.Threads = DefaultThreads
			threadsSource = "default"
		} else {
			limits.Threads = n
		}
	}

	resolveOnce.Do(func() {
		ev := logging.Info()
		if len(warnings) > 0 {
			ev = logging.Warn().Strs("warnings", warnings)
		}
		ev.Str("max_memory", limits.MaxMemory).
			Str("max_memory_source", memorySource).
			Int("threads", limits.Threads).
			Str("threads_source", threadsSource).
			Msg("Resolved database resource limits")
	})

	return limits
}

// resetResolveOnceForTesting re-arms the once-per-process warning so tests
// can observe it deterministically.
func resetResolveOnceForTesting() {
	resolveOnce = sync.Once{}
}
