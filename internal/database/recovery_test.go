// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradeblocks/tradeblocks/internal/config"
	"github.com/tradeblocks/tradeblocks/internal/procinspect"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		alive    bool
		orphaned bool
		force    bool
		want     action
	}{
		{"dead holder", false, false, false, actionAutoRecoverStale},
		{"dead holder with force", false, false, true, actionAutoRecoverStale},
		{"dead orphan-flagged holder", false, true, false, actionAutoRecoverStale},
		{"live orphan", true, true, false, actionAutoRecoverOrphan},
		{"live orphan with force", true, true, true, actionForceRecover},
		{"live supervised holder", true, false, false, actionReadOnlyFallback},
		{"live supervised holder with force", true, false, true, actionForceRecover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.alive, tt.orphaned, tt.force))
		})
	}
}

// fakeClock advances on every Sleep, so deadline loops run instantly and
// deterministically.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
}

func TestWaitForDeathBoundedByGracePeriod(t *testing.T) {
	clk := newFakeClock()
	insp := &fakeInspector{alive: true, orphaned: true}
	m := NewManager(
		&config.Config{DataDir: t.TempDir(), Database: config.DatabaseConfig{LockGracePeriod: 2 * time.Second}},
		WithInspector(insp), withClock(clk),
	)

	died := m.waitForDeath(context.Background(), 1234, 2*time.Second)

	assert.False(t, died)
	assert.GreaterOrEqual(t, clk.slept, 2*time.Second, "wait must run to the deadline")
	assert.Less(t, clk.slept, 3*time.Second, "wait must not run far past the deadline")
}

func TestWaitForDeathReturnsOnDeath(t *testing.T) {
	clk := newFakeClock()
	insp := &fakeInspector{alive: true, orphaned: true, deadAfterProbes: 3}
	m := NewManager(
		&config.Config{DataDir: t.TempDir(), Database: config.DatabaseConfig{LockGracePeriod: time.Minute}},
		WithInspector(insp), withClock(clk),
	)

	died := m.waitForDeath(context.Background(), 1234, time.Minute)

	assert.True(t, died)
	assert.Less(t, clk.slept, time.Second, "death must end the wait early")
}

func TestWaitForDeathHonorsContextCancellation(t *testing.T) {
	clk := newFakeClock()
	insp := &fakeInspector{alive: true}
	m := NewManager(
		&config.Config{DataDir: t.TempDir(), Database: config.DatabaseConfig{LockGracePeriod: time.Minute}},
		WithInspector(insp), withClock(clk),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	died := m.waitForDeath(ctx, 1234, time.Minute)
	assert.False(t, died)
	assert.Less(t, clk.slept, time.Second)
}

// fakeInspector is a scriptable process inspector for recovery tests.
type fakeInspector struct {
	mu              sync.Mutex
	alive           bool
	orphaned        bool
	deadAfterProbes int // >0: report dead after this many Inspect calls
	deadOnKill      bool
	probes          int
	terminations    []terminateCall
	onTerminate     func(pid int32, force bool)
}

type terminateCall struct {
	pid   int32
	force bool
}

var _ procinspect.Inspector = (*fakeInspector)(nil)

func (f *fakeInspector) Inspect(_ context.Context, pid int32) (procinspect.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++

	alive := f.alive
	if f.deadAfterProbes > 0 && f.probes > f.deadAfterProbes {
		alive = false
	}
	if f.deadOnKill && len(f.terminations) > 0 {
		alive = false
	}
	return procinspect.Inspection{
		Alive:    alive,
		Orphaned: alive && f.orphaned,
		Info: procinspect.HolderInfo{
			PID:        pid,
			ObservedAt: time.Now(),
		},
	}, nil
}

func (f *fakeInspector) Terminate(_ context.Context, pid int32, force bool) error {
	f.mu.Lock()
	call := terminateCall{pid: pid, force: force}
	f.terminations = append(f.terminations, call)
	cb := f.onTerminate
	f.mu.Unlock()

	if cb != nil {
		cb(pid, force)
	}
	return nil
}

func (f *fakeInspector) terminateCalls() []terminateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]terminateCall(nil), f.terminations...)
}
