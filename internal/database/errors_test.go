// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsLockError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			"duckdb lock conflict",
			errors.New(`IO Error: Could not set lock on file "/data/tradeblocks.duckdb": Conflicting lock is held in /usr/bin/python3 (PID 12345)`),
			true,
		},
		{"generic locked", errors.New("database is locked"), true},
		{"corruption is not a lock error", errors.New("not a valid DuckDB database file"), false},
		{"unrelated io error", errors.New("IO Error: No space left on device"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLockError(tt.err); got != tt.want {
				t.Errorf("isLockError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsCorruptionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			"invalid file",
			errors.New(`IO Error: The file "/data/tradeblocks.duckdb" is not a valid DuckDB database file!`),
			true,
		},
		{"checksum", errors.New("Corruption Error: checksum mismatch on block 42"), true},
		{"wal replay", errors.New("Failure while replaying WAL file"), true},
		{"lock conflict is not corruption", errors.New("Conflicting lock is held in (PID 9)"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCorruptionError(tt.err); got != tt.want {
				t.Errorf("isCorruptionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExtractHolderPID(t *testing.T) {
	err := errors.New(`IO Error: Could not set lock on file: Conflicting lock is held in /usr/bin/duckdb (PID 4242). See also ...`)
	if got := extractHolderPID(err); got != 4242 {
		t.Errorf("extractHolderPID = %d, want 4242", got)
	}

	if got := extractHolderPID(errors.New("no pid here")); got != 0 {
		t.Errorf("extractHolderPID = %d, want 0 for message without PID", got)
	}

	if got := extractHolderPID(nil); got != 0 {
		t.Errorf("extractHolderPID(nil) = %d, want 0", got)
	}
}

func TestClassifiedErrorsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("%w: engine detail", ErrCorruptedDatabase)
	if !errors.Is(wrapped, ErrCorruptedDatabase) {
		t.Error("wrapped corruption error lost its classification")
	}

	wrapped = fmt.Errorf("%w: holder pid 7", ErrLockContention)
	if !errors.Is(wrapped, ErrLockContention) {
		t.Error("wrapped contention error lost its classification")
	}
}
