// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tradeblocks/tradeblocks/internal/database"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"corruption", database.ErrCorruptedDatabase, exitCorrupted},
		{"wrapped corruption", fmt.Errorf("acquire: %w", database.ErrCorruptedDatabase), exitCorrupted},
		{"contention", database.ErrLockContention, exitContention},
		{"wrapped contention", fmt.Errorf("acquire: %w", database.ErrLockContention), exitContention},
		{"generic", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if got := run([]string{"frobnicate"}); got != exitFailure {
		t.Errorf("run(frobnicate) = %d, want %d", got, exitFailure)
	}
}
