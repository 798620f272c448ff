// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

// Package main is the entry point for the tradeblocks CLI.
//
// TradeBlocks analyzes options-trading backtests stored in a single-file
// DuckDB database inside a shared data directory. The tool is re-invoked
// per agent call; each invocation acquires the database through the
// connection lifecycle manager, which recovers stale and orphaned write
// locks automatically and degrades to read-only when a legitimate writer
// is active elsewhere.
//
// # Commands
//
//	tradeblocks init            Open read-write once to bootstrap the schema
//	tradeblocks query <sql>     Run a SQL statement and print the result
//	tradeblocks status          Classify the current lock holder, no recovery
//
// # Configuration
//
// Environment variables:
//   - TRADEBLOCKS_DATA_DIR: data directory (database + lock artifact)
//   - TRADEBLOCKS_DB_MAX_MEMORY: engine memory ceiling, e.g. "2GB"
//   - TRADEBLOCKS_DB_THREADS: engine thread count (0 = CPU count)
//   - TRADEBLOCKS_LOG_LEVEL / TRADEBLOCKS_LOG_FORMAT
//
// Malformed limit values fall back to built-in defaults with a warning;
// they never block startup.
//
// # Exit codes
//
//	0  success (including degraded read-only success)
//	1  generic failure
//	2  corrupted database: operator must remove the file, retry is useless
//	3  lock contention: a later invocation may succeed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/tradeblocks/tradeblocks/internal/config"
	"github.com/tradeblocks/tradeblocks/internal/database"
	"github.com/tradeblocks/tradeblocks/internal/logging"
	"github.com/tradeblocks/tradeblocks/internal/procinspect"
)

const (
	exitOK = iota
	exitFailure
	exitCorrupted
	exitContention
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tradeblocks", flag.ContinueOnError)
	forceRecovery := fs.Bool("force-recovery", false,
		"terminate the current lock holder even if it is a live supervised process (destructive)")
	dataDir := fs.String("data-dir", "", "override the data directory (TRADEBLOCKS_DATA_DIR)")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.SetLogger(logging.With().Str("invocation", uuid.NewString()).Logger())

	manager := database.NewManager(cfg)
	defer manager.Close()

	ctx := context.Background()
	opts := database.AcquireOptions{Force: *forceRecovery}

	switch cmd := fs.Arg(0); cmd {
	case "init":
		err = runInit(ctx, manager, opts)
	case "query":
		err = runQuery(ctx, manager, opts, strings.Join(fs.Args()[1:], " "))
	case "status":
		err = runStatus(ctx, cfg)
	case "":
		fs.Usage()
		return exitFailure
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return exitFailure
	}

	if err != nil {
		logging.Err(err).Msg("Command failed")
		return exitCodeFor(err)
	}
	return exitOK
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintln(os.Stderr, "Usage: tradeblocks [flags] <init|query|status> [sql]")
		fs.PrintDefaults()
	}
}

// exitCodeFor maps classified errors to exit codes so callers can tell a
// retryable contention from a corruption that needs operator action.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, database.ErrCorruptedDatabase):
		return exitCorrupted
	case errors.Is(err, database.ErrLockContention):
		return exitContention
	default:
		return exitFailure
	}
}

// runInit opens the database read-write once so the schema exists.
func runInit(ctx context.Context, manager *database.Manager, opts database.AcquireOptions) error {
	handle, err := manager.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	if handle.ReadOnly() {
		return fmt.Errorf("%w: init needs read-write access", database.ErrLockContention)
	}
	logging.Info().Msg("Database initialized")
	return nil
}

// runQuery executes one SQL statement through the managed handle and
// prints the result as a tab-separated table.
func runQuery(ctx context.Context, manager *database.Manager, opts database.AcquireOptions, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query: missing SQL argument")
	}

	handle, err := manager.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	if handle.ReadOnly() {
		logging.Warn().Msg("Handle is read-only; writes will fail until the concurrent writer exits")
	}

	rows, err := handle.DB().QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		fields := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				fields[i] = "NULL"
				continue
			}
			fields[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return w.Flush()
}

// runStatus classifies the current lock holder without opening the
// database or triggering recovery.
func runStatus(ctx context.Context, cfg *config.Config) error {
	status, err := database.InspectLock(ctx, cfg, procinspect.NewSystemInspector())
	if err != nil {
		return err
	}

	fmt.Printf("database: %s\n", cfg.DatabasePath())
	if !status.ArtifactPresent {
		fmt.Println("lock: free")
		return nil
	}
	fmt.Printf("lock: artifact present (flock held: %v)\n", status.FlockHeld)
	if status.Holder == nil {
		fmt.Println("holder: unknown (artifact unreadable)")
		return nil
	}
	h := status.Holder
	fmt.Printf("holder: pid %d (%s) on %s, acquired %s\n", h.PID, h.Command, h.Hostname, h.AcquiredAt.Format("2006-01-02 15:04:05 MST"))
	switch {
	case !h.Alive:
		fmt.Println("classification: dead (stale lock; next invocation will auto-recover)")
	case h.Orphaned:
		fmt.Println("classification: orphaned (next invocation will terminate it and auto-recover)")
	default:
		fmt.Println("classification: live writer (next invocation degrades to read-only)")
	}
	return nil
}
