// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"context"
	"os"
	"time"

	"github.com/tradeblocks/tradeblocks/internal/config"
	"github.com/tradeblocks/tradeblocks/internal/procinspect"
)

// LockStatus is a point-in-time classification of the lock artifact,
// gathered without triggering any recovery action. Used by the status
// command so an operator can see why an invocation behaved the way it did.
type LockStatus struct {
	ArtifactPresent bool
	FlockHeld       bool
	Holder          *HolderStatus
}

// HolderStatus describes the recorded lock holder and its classification.
type HolderStatus struct {
	PID        int32
	Command    string
	Hostname   string
	AcquiredAt time.Time
	Alive      bool
	Orphaned   bool
}

// InspectLock reports the current state of the lock artifact. Read-only:
// the artifact, the database file and the holder process are left
// untouched.
func InspectLock(ctx context.Context, cfg *config.Config, inspector procinspect.Inspector) (*LockStatus, error) {
	status := &LockStatus{}

	if _, err := os.Stat(cfg.LockPath()); err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, err
	}
	status.ArtifactPresent = true

	// Held-ness is probed with a shared lock so a concurrent acquire
	// racing this status call cannot lose the exclusive flock to a mere
	// probe. The instant the shared lock itself is visible remains a
	// race window, but a harmless one.
	lf := newLockFile(cfg.LockPath())
	if shared, err := lf.fl.TryRLock(); err == nil {
		status.FlockHeld = !shared
		if shared {
			_ = lf.fl.Unlock()
		}
	}

	meta := lf.ReadHolder()
	if meta == nil {
		return status, nil
	}
	holder := &HolderStatus{
		PID:        meta.PID,
		Command:    meta.Command,
		Hostname:   meta.Hostname,
		AcquiredAt: meta.AcquiredAt,
	}
	if insp, err := inspector.Inspect(ctx, meta.PID); err == nil {
		holder.Alive = insp.Alive
		holder.Orphaned = insp.Orphaned
		if insp.Info.Command != "" {
			holder.Command = insp.Info.Command
		}
	}
	status.Holder = holder
	return status, nil
}
