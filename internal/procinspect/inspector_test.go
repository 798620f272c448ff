// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package procinspect

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectSelf(t *testing.T) {
	insp := NewSystemInspector()

	result, err := insp.Inspect(context.Background(), int32(os.Getpid()))
	require.NoError(t, err)

	assert.True(t, result.Alive, "own process must be reported alive")
	assert.Equal(t, int32(os.Getpid()), result.Info.PID)
	assert.Equal(t, int32(os.Getppid()), result.Info.ParentPID)
	assert.False(t, result.Info.ObservedAt.IsZero())
	if !result.Info.StartTime.IsZero() {
		assert.True(t, result.Info.StartTime.Before(time.Now().Add(time.Minute)))
	}
}

func TestInspectDeadPID(t *testing.T) {
	// Spawn and reap a child so we hold a PID known to be dead.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := int32(cmd.Process.Pid)
	require.NoError(t, cmd.Wait())

	insp := NewSystemInspector()
	result, err := insp.Inspect(context.Background(), pid)
	require.NoError(t, err)

	assert.False(t, result.Alive)
	assert.False(t, result.Orphaned)
}

func TestInspectInvalidPID(t *testing.T) {
	insp := NewSystemInspector()

	for _, pid := range []int32{0, -1} {
		result, err := insp.Inspect(context.Background(), pid)
		require.NoError(t, err)
		assert.False(t, result.Alive)
	}
}

func TestTerminate(t *testing.T) {
	t.Run("graceful", func(t *testing.T) {
		cmd := exec.Command("sleep", "30")
		require.NoError(t, cmd.Start())
		pid := int32(cmd.Process.Pid)

		insp := NewSystemInspector()
		require.NoError(t, insp.Terminate(context.Background(), pid, false))

		// Reap; sleep exits on SIGTERM.
		err := cmd.Wait()
		assert.Error(t, err)

		result, err := insp.Inspect(context.Background(), pid)
		require.NoError(t, err)
		assert.False(t, result.Alive)
	})

	t.Run("dead pid is a no-op", func(t *testing.T) {
		cmd := exec.Command("true")
		require.NoError(t, cmd.Start())
		pid := int32(cmd.Process.Pid)
		require.NoError(t, cmd.Wait())

		insp := NewSystemInspector()
		assert.NoError(t, insp.Terminate(context.Background(), pid, false))
	})
}
