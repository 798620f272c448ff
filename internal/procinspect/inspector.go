// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

// Package procinspect classifies lock-holder processes for database
// recovery decisions.
//
// The database lock artifact records the PID of the process that holds the
// write lock. When a later invocation finds the lock contended, it must
// distinguish three cases before touching anything:
//
//   - the PID is dead: the lock is stale and safe to reclaim
//   - the PID is alive but orphaned (reparented to init): its supervisor
//     exited without releasing the lock; safe to terminate and reclaim
//   - the PID is alive and supervised: a legitimate concurrent owner that
//     recovery must not disturb
//
// The inspection is exposed behind a small interface so the connection
// manager can take a fake in tests; the real implementation reads the
// process table via gopsutil, which abstracts the per-OS mechanism
// (signal probe, /proc, platform API).
package procinspect

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// initPID is the PID processes are reparented to when their original
// parent exits.
const initPID = 1

// HolderInfo describes the process referenced by a lock artifact at the
// moment of inspection. Derived fresh on each contention event; the holder
// may change between inspection and action, so it is never cached beyond a
// single recovery attempt.
type HolderInfo struct {
	PID        int32
	ParentPID  int32
	Command    string
	StartTime  time.Time // zero when the platform does not expose it
	ObservedAt time.Time
}

// Inspection is the classification of a lock holder.
type Inspection struct {
	Alive    bool
	Orphaned bool // only meaningful when Alive
	Info     HolderInfo
}

// Inspector classifies and terminates lock-holder processes.
type Inspector interface {
	// Inspect probes the given PID without side effects on the target.
	// A PID that does not resolve to a running process is reported dead.
	Inspect(ctx context.Context, pid int32) (Inspection, error)

	// Terminate asks the process to exit. With force it is killed
	// outright instead of being signalled to shut down.
	Terminate(ctx context.Context, pid int32, force bool) error
}

// SystemInspector reads the live process table.
type SystemInspector struct{}

// NewSystemInspector returns an Inspector backed by the operating system's
// process table.
func NewSystemInspector() *SystemInspector {
	return &SystemInspector{}
}

// Inspect implements Inspector.
func (s *SystemInspector) Inspect(ctx context.Context, pid int32) (Inspection, error) {
	insp := Inspection{Info: HolderInfo{PID: pid, ObservedAt: time.Now()}}

	if pid <= 0 {
		return insp, nil
	}

	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return insp, err
	}
	if !exists {
		return insp, nil
	}
	insp.Alive = true

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// The process vanished between the existence probe and the
		// table read; report it dead.
		insp.Alive = false
		return insp, nil //nolint:nilerr // disappearance is a valid outcome
	}

	if ppid, err := proc.PpidWithContext(ctx); err == nil {
		insp.Info.ParentPID = ppid
		insp.Orphaned = ppid == initPID
	}

	// Command line and start time are best-effort enrichment: permission
	// errors on another user's process must not fail the inspection.
	if cmd, err := proc.CmdlineWithContext(ctx); err == nil {
		insp.Info.Command = cmd
	}
	if createMs, err := proc.CreateTimeWithContext(ctx); err == nil && createMs > 0 {
		insp.Info.StartTime = time.UnixMilli(createMs)
	}

	return insp, nil
}

// Terminate implements Inspector.
func (s *SystemInspector) Terminate(ctx context.Context, pid int32, force bool) error {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// Already gone; nothing to terminate.
		return nil
	}
	if force {
		return proc.KillWithContext(ctx)
	}
	return proc.TerminateWithContext(ctx)
}
