// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"context"
	"time"
)

// RecoveryAction is the recovery outcome surfaced to callers and logs.
type RecoveryAction string

const (
	// RecoveryNone means the open needed no recovery.
	RecoveryNone RecoveryAction = "none"
	// RecoveryAuto means a stale or orphaned lock was reclaimed without
	// operator involvement.
	RecoveryAuto RecoveryAction = "auto-recovered"
	// RecoveryForced means the holder was terminated on explicit
	// operator request.
	RecoveryForced RecoveryAction = "force-recovered"
	// RecoveryReadOnly means a legitimate writer was left alone and the
	// handle was opened read-only instead.
	RecoveryReadOnly RecoveryAction = "read-only-fallback"
)

// RecoveryOutcome records what the manager did about lock contention on
// this invocation. Degraded successes are not errors; callers check the
// handle mode.
type RecoveryOutcome struct {
	Action RecoveryAction
	Reason string
}

// action is the internal recovery decision.
type action int

const (
	actionAutoRecoverStale action = iota
	actionAutoRecoverOrphan
	actionForceRecover
	actionReadOnlyFallback
)

// decide maps the holder classification and caller intent to a recovery
// action. Pure: auto-recovery only ever targets processes proven dead or
// structurally orphaned; a live supervised holder is displaced only on an
// explicit force request.
func decide(alive, orphaned, force bool) action {
	switch {
	case !alive:
		return actionAutoRecoverStale
	case force:
		return actionForceRecover
	case orphaned:
		return actionAutoRecoverOrphan
	default:
		return actionReadOnlyFallback
	}
}

// clock abstracts time for the bounded grace wait so recovery deadlines are
// testable with a fake.
type clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// livenessPollInterval is how often the grace wait re-probes the holder.
const livenessPollInterval = 100 * time.Millisecond

// waitForDeath polls the holder until it dies or the grace period elapses.
// The deadline is computed once on the injected clock, so a single acquire
// can never hang past the bound. Returns true if the holder died in time.
func (m *Manager) waitForDeath(ctx context.Context, pid int32, grace time.Duration) bool {
	deadline := m.clock.Now().Add(grace)
	for {
		insp, err := m.inspector.Inspect(ctx, pid)
		if err == nil && !insp.Alive {
			return true
		}
		if ctx.Err() != nil || !m.clock.Now().Before(deadline) {
			return false
		}
		m.clock.Sleep(livenessPollInterval)
	}
}
