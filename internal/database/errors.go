// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/tradeblocks/tradeblocks/internal/logging"
)

// Classified terminal errors crossing the subsystem boundary. The CLI maps
// these to distinct exit codes: contention may succeed on a later
// invocation, corruption requires operator action.
var (
	// ErrLockContention means another live process legitimately holds the
	// write lock and could not (or must not) be displaced.
	ErrLockContention = errors.New("database is locked by another live process")

	// ErrCorruptedDatabase means the storage engine reported a
	// checksum/format error. Never auto-repaired: the fix is manual
	// removal of the database file by the operator.
	ErrCorruptedDatabase = errors.New("database file is corrupted; remove it manually to rebuild from source data")

	// ErrClosed is returned when the manager has already been closed.
	ErrClosed = errors.New("database manager is closed")
)

// isLockError checks whether a storage engine error indicates the file
// lock is held by another process, as opposed to any other open failure.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not set lock on file") ||
		strings.Contains(msg, "conflicting lock is held") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "file is already open in")
}

// isCorruptionError checks whether a storage engine error indicates a
// damaged database file rather than a lock or transient I/O problem.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a valid duckdb database file") ||
		strings.Contains(msg, "corrupt") ||
		strings.Contains(msg, "checksum") ||
		strings.Contains(msg, "failure while replaying wal")
}

// holderPIDRe matches the conflicting PID DuckDB embeds in its lock error,
// e.g. `Conflicting lock is held in /usr/bin/python3 (PID 12345)`.
var holderPIDRe = regexp.MustCompile(`\(PID (\d+)\)`)

// extractHolderPID pulls the lock holder PID out of an engine lock error.
// Returns 0 when the message carries no PID.
func extractHolderPID(err error) int32 {
	if err == nil {
		return 0
	}
	m := holderPIDRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	pid, convErr := strconv.ParseInt(m[1], 10, 32)
	if convErr != nil {
		return 0
	}
	return int32(pid)
}

// closeWithLog closes a resource and logs any error. Use for cleanup where
// errors should be acknowledged but not fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error. Use in
// error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // cleanup is best-effort
	}
}
