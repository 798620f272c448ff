// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

/*
manager.go - Database Connection Lifecycle

The tool is re-invoked per agent call, so independent short-lived processes
share one DuckDB file. DuckDB permits many readers but a single writer and
enforces that with an OS file lock. The Manager owns the process-wide handle
and, on contention, distinguishes a live legitimate writer from a crashed or
orphaned one:

  - dead holder: reclaim the stale artifact and open read-write
  - orphaned holder (reparented to init): terminate it, wait a bounded
    grace period, reclaim, open read-write
  - live supervised holder: leave it alone; degrade to read-only or fail
    with ErrLockContention
  - force: operator override that displaces the holder regardless

The open is retried exactly once after a recovery action. Corruption is
always fatal and never downgraded; the operator must remove the file.
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tradeblocks/tradeblocks/internal/config"
	"github.com/tradeblocks/tradeblocks/internal/logging"
	"github.com/tradeblocks/tradeblocks/internal/procinspect"
)

// Mode is the access mode of an open handle.
type Mode string

const (
	ModeReadWrite Mode = "read-write"
	ModeReadOnly  Mode = "read-only"
)

// ConnectionState tracks the manager's lifecycle. Transitions only move
// forward, except that Failed may be retried by a later Acquire in the same
// process; the state is never persisted.
type ConnectionState int

const (
	StateUninitialized ConnectionState = iota
	StateOpenReadWrite
	StateOpenReadOnly
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpenReadWrite:
		return "open-read-write"
	case StateOpenReadOnly:
		return "open-read-only"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Handle is the process-wide singleton connection to the database. It is
// owned exclusively by the Manager: callers query through it but never
// open or close it themselves.
type Handle struct {
	db      *sql.DB
	mode    Mode
	outcome RecoveryOutcome
}

// DB exposes the query-execution surface.
func (h *Handle) DB() *sql.DB { return h.db }

// Mode reports whether the handle is read-write or read-only. Callers must
// check this after a degraded-success acquire.
func (h *Handle) Mode() Mode { return h.mode }

// ReadOnly reports whether writes are unavailable on this handle.
func (h *Handle) ReadOnly() bool { return h.mode == ModeReadOnly }

// Outcome reports the recovery action taken during acquisition.
func (h *Handle) Outcome() RecoveryOutcome { return h.outcome }

// AcquireOptions carries caller intent into the recovery policy.
type AcquireOptions struct {
	// Force displaces even a live, supervised lock holder. Destructive;
	// only set from an explicit operator flag.
	Force bool
}

// Manager owns the lazy, process-wide database handle and executes the
// recovery policy when the write lock is contended.
type Manager struct {
	cfg       *config.Config
	inspector procinspect.Inspector
	clock     clock
	openFn    func(ctx context.Context, dsn string) (*sql.DB, error)
	log       zerolog.Logger

	mu             sync.Mutex
	state          ConnectionState
	handle         *Handle
	lock           *lockFile
	limits         config.ResourceLimits
	limitsResolved bool
	closed         bool
}

// Option customizes a Manager, mainly for tests.
type Option func(*Manager)

// WithInspector replaces the process-table inspector.
func WithInspector(i procinspect.Inspector) Option {
	return func(m *Manager) { m.inspector = i }
}

// withClock replaces the clock driving the recovery grace wait.
func withClock(c clock) Option {
	return func(m *Manager) { m.clock = c }
}

// withOpenFn replaces the engine open primitive.
func withOpenFn(fn func(ctx context.Context, dsn string) (*sql.DB, error)) Option {
	return func(m *Manager) { m.openFn = fn }
}

// NewManager creates a Manager for the configured data directory. The
// database file is not opened until the first Acquire.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		inspector: procinspect.NewSystemInspector(),
		clock:     systemClock{},
		openFn:    openDuckDB,
		state:     StateUninitialized,
		log:       logging.With().Str("component", "database").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire returns the process-wide database handle, opening it lazily on
// the first call. Subsequent calls return the cached handle without
// re-running validation or recovery. A Failed state from an earlier call is
// retried from scratch.
func (m *Manager) Acquire(ctx context.Context, opts AcquireOptions) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.handle != nil {
		return m.handle, nil
	}
	if !m.limitsResolved {
		m.limits = m.cfg.ResolveResourceLimits()
		m.limitsResolved = true
	}

	handle, err := m.open(ctx, opts.Force)
	if err != nil {
		m.state = StateFailed
		return nil, err
	}

	m.handle = handle
	if handle.mode == ModeReadOnly {
		m.state = StateOpenReadOnly
	} else {
		m.state = StateOpenReadWrite
	}
	m.log.Info().
		Str("mode", string(handle.mode)).
		Str("recovery", string(handle.outcome.Action)).
		Str("reason", handle.outcome.Reason).
		Str("path", m.cfg.DatabasePath()).
		Msg("Database handle acquired")
	return handle, nil
}

// Close releases the handle and the lock artifact. Wired to process
// teardown by the CLI; safe to call once on every exit path.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	if m.handle != nil {
		heldLock := m.handle.mode == ModeReadWrite
		closeWithLog(m.handle.db, "database connection")
		m.handle = nil
		if heldLock && m.lock != nil {
			if err := m.lock.Release(); err != nil {
				m.log.Warn().Err(err).Msg("Failed to release lock artifact")
			}
		}
	}
}

// contendedError is the internal signal that the write lock is held; it
// carries whatever is known about the holder for the recovery decision.
type contendedError struct {
	holder *holderMeta // nil when the artifact was unreadable
	pid    int32
	cause  error
}

func (e *contendedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("write lock contended (holder pid %d): %v", e.pid, e.cause)
	}
	return fmt.Sprintf("write lock contended (holder pid %d)", e.pid)
}

func (e *contendedError) Unwrap() error { return e.cause }

// open performs one acquisition: attempt, classify contention, recover per
// policy, then retry exactly once. A second contended failure surfaces
// ErrLockContention rather than looping against a persistently live holder.
func (m *Manager) open(ctx context.Context, force bool) (*Handle, error) {
	dbPath := m.cfg.DatabasePath()
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	m.lock = newLockFile(m.cfg.LockPath())

	handle, err := m.tryOpenReadWrite(ctx)
	if err == nil {
		return handle, nil
	}
	var contended *contendedError
	if !errors.As(err, &contended) {
		return nil, err
	}

	outcome, recoverErr := m.recover(ctx, contended, force)
	if recoverErr != nil {
		return nil, recoverErr
	}
	if outcome.Action == RecoveryReadOnly {
		return m.openReadOnly(ctx, contended)
	}

	handle, err = m.tryOpenReadWrite(ctx)
	if err != nil {
		if errors.As(err, &contended) {
			return nil, fmt.Errorf("%w: recovery did not free the lock (holder pid %d)", ErrLockContention, contended.pid)
		}
		return nil, err
	}
	handle.outcome = outcome
	return handle, nil
}

// tryOpenReadWrite takes the lock artifact and opens the engine read-write.
// Returns a *contendedError when the artifact or the engine lock is held.
func (m *Manager) tryOpenReadWrite(ctx context.Context) (*Handle, error) {
	got, err := m.lock.TryAcquire()
	if err != nil {
		return nil, err
	}
	if !got {
		ce := &contendedError{holder: m.lock.ReadHolder()}
		if ce.holder != nil {
			ce.pid = ce.holder.PID
		}
		return nil, ce
	}

	// The flock dies with its holder, so metadata from another PID under
	// a free flock means a crashed writer left a stale artifact.
	var stale *holderMeta
	if prev := m.lock.ReadHolder(); prev != nil && prev.PID != int32(os.Getpid()) {
		stale = prev
	}

	if err := m.lock.WriteHolder(currentHolderMeta()); err != nil {
		_ = m.lock.Release()
		return nil, err
	}

	db, err := m.openFn(ctx, m.readWriteDSN())
	if err != nil {
		_ = m.lock.Release()
		switch {
		case isCorruptionError(err):
			m.log.Error().Err(err).Str("path", m.cfg.DatabasePath()).
				Msg("Database file is corrupted; remove it manually to rebuild")
			return nil, fmt.Errorf("%w: %v", ErrCorruptedDatabase, err)
		case isLockError(err):
			// Engine-level lock held by a process that never took our
			// artifact (e.g. an external DuckDB client).
			return nil, &contendedError{pid: extractHolderPID(err), cause: err}
		default:
			return nil, fmt.Errorf("open database read-write: %w", err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		closeQuietly(db)
		_ = m.lock.Release()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	handle := &Handle{db: db, mode: ModeReadWrite, outcome: RecoveryOutcome{Action: RecoveryNone}}
	if stale != nil {
		m.log.Warn().
			Int32("holder_pid", stale.PID).
			Str("holder_command", stale.Command).
			Time("acquired_at", stale.AcquiredAt).
			Msg("Reclaimed stale lock artifact left by a dead process")
		handle.outcome = RecoveryOutcome{Action: RecoveryAuto, Reason: "stale"}
	}
	return handle, nil
}

// recover classifies the lock holder and executes the policy decision.
// Returns the outcome the retried open should report, or a terminal error.
func (m *Manager) recover(ctx context.Context, contended *contendedError, force bool) (RecoveryOutcome, error) {
	var insp procinspect.Inspection
	if contended.pid <= 0 {
		// The flock is held but the artifact carries no readable holder
		// metadata (writer crashed mid-write, garbage content, unreadable
		// file). Someone live owns the lock even though we cannot name it;
		// never reclaim on a guess.
		m.log.Warn().
			Msg("Write lock held without readable holder metadata; treating holder as alive")
		insp.Alive = true
	} else {
		var err error
		insp, err = m.inspector.Inspect(ctx, contended.pid)
		if err != nil {
			m.log.Warn().Err(err).Int32("holder_pid", contended.pid).
				Msg("Lock holder inspection failed; treating holder as alive")
			insp = procinspect.Inspection{Alive: true}
		}
	}

	// PID reuse: a process that started after the lock was written cannot
	// be the process that wrote it.
	if insp.Alive && contended.holder != nil &&
		!insp.Info.StartTime.IsZero() && !contended.holder.AcquiredAt.IsZero() &&
		insp.Info.StartTime.After(contended.holder.AcquiredAt) {
		m.log.Warn().
			Int32("holder_pid", contended.pid).
			Time("process_started", insp.Info.StartTime).
			Time("lock_acquired", contended.holder.AcquiredAt).
			Msg("Lock holder PID was reused by a newer process; lock is stale")
		insp.Alive = false
	}

	m.log.Info().
		Int32("holder_pid", contended.pid).
		Bool("alive", insp.Alive).
		Bool("orphaned", insp.Orphaned).
		Str("holder_command", insp.Info.Command).
		Bool("force", force).
		Msg("Write lock contended; classifying holder")

	switch decide(insp.Alive, insp.Orphaned, force) {
	case actionAutoRecoverStale:
		if err := m.lock.RemoveStale(); err != nil {
			return RecoveryOutcome{}, err
		}
		return RecoveryOutcome{Action: RecoveryAuto, Reason: "stale"}, nil

	case actionAutoRecoverOrphan:
		m.log.Warn().Int32("holder_pid", contended.pid).
			Msg("Lock holder is orphaned; sending termination signal")
		if err := m.inspector.Terminate(ctx, contended.pid, false); err != nil {
			return RecoveryOutcome{}, fmt.Errorf("terminate orphaned holder %d: %w", contended.pid, err)
		}
		if !m.waitForDeath(ctx, contended.pid, m.cfg.Database.LockGracePeriod) {
			// Still valid to reclaim: the holder is structurally
			// orphaned, not a supervised peer.
			m.log.Warn().Int32("holder_pid", contended.pid).
				Dur("grace_period", m.cfg.Database.LockGracePeriod).
				Msg("Orphaned holder survived the grace period; removing lock artifact anyway")
		}
		if err := m.lock.RemoveStale(); err != nil {
			return RecoveryOutcome{}, err
		}
		return RecoveryOutcome{Action: RecoveryAuto, Reason: "orphaned"}, nil

	case actionForceRecover:
		m.log.Warn().Int32("holder_pid", contended.pid).
			Msg("Force recovery requested; killing lock holder")
		if err := m.inspector.Terminate(ctx, contended.pid, true); err != nil {
			return RecoveryOutcome{}, fmt.Errorf("kill lock holder %d: %w", contended.pid, err)
		}
		if err := m.lock.RemoveStale(); err != nil {
			return RecoveryOutcome{}, err
		}
		return RecoveryOutcome{Action: RecoveryForced, Reason: "forced"}, nil

	default: // actionReadOnlyFallback
		return RecoveryOutcome{Action: RecoveryReadOnly, Reason: "live holder"}, nil
	}
}

// openReadOnly opens the engine read-only without touching the lock
// artifact. Used when a legitimate writer is active elsewhere.
func (m *Manager) openReadOnly(ctx context.Context, contended *contendedError) (*Handle, error) {
	db, err := m.openFn(ctx, m.readOnlyDSN())
	if err != nil {
		switch {
		case isCorruptionError(err):
			return nil, fmt.Errorf("%w: %v", ErrCorruptedDatabase, err)
		case isLockError(err):
			return nil, fmt.Errorf("%w: holder pid %d is a live writer and the engine refused concurrent read-only access", ErrLockContention, contended.pid)
		default:
			return nil, fmt.Errorf("open database read-only: %w", err)
		}
	}
	m.log.Info().
		Int32("holder_pid", contended.pid).
		Msg("Legitimate writer active; degraded to read-only handle")
	return &Handle{
		db:      db,
		mode:    ModeReadOnly,
		outcome: RecoveryOutcome{Action: RecoveryReadOnly, Reason: "live holder"},
	}, nil
}

func (m *Manager) readWriteDSN() string {
	return m.dsn("read_write")
}

func (m *Manager) readOnlyDSN() string {
	return m.dsn("read_only")
}

// dsn builds the engine connection string, applying the resolved resource
// limits at open time.
func (m *Manager) dsn(accessMode string) string {
	threads := m.limits.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return fmt.Sprintf("%s?access_mode=%s&threads=%d&max_memory=%s",
		m.cfg.DatabasePath(), accessMode, threads, m.limits.MaxMemory)
}

// openDuckDB is the default engine open primitive. database/sql defers the
// real open, so the ping forces lock and corruption errors to surface here.
func openDuckDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return db, nil
}
