// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

// holderMeta is the JSON payload stored in the lock artifact. It identifies
// the process that holds the write lock so a later invocation can classify
// it (dead, orphaned, legitimate) without guessing.
type holderMeta struct {
	PID        int32     `json:"pid"`
	ParentPID  int32     `json:"ppid"`
	Hostname   string    `json:"hostname"`
	Command    string    `json:"command"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// lockFile is the write-lock artifact colocated with the database file.
// The read-write owner holds an OS flock on it for its process lifetime;
// the flock is released by the kernel even on a crash, so the artifact
// content going stale is observable (metadata present, flock free).
// Read-only opens never touch the artifact.
type lockFile struct {
	path string
	fl   *flock.Flock
}

func newLockFile(path string) *lockFile {
	return &lockFile{path: path, fl: flock.New(path)}
}

// TryAcquire attempts to take the exclusive flock without blocking.
func (l *lockFile) TryAcquire() (bool, error) {
	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.path, err)
	}
	return locked, nil
}

// WriteHolder records this process as the lock holder. Call only while the
// flock is held.
func (l *lockFile) WriteHolder(meta holderMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock holder: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("write lock holder: %w", err)
	}
	return nil
}

// ReadHolder returns the recorded holder, or nil when the artifact is
// absent, empty, or unreadable (a recovery decision then falls back to
// whatever the engine error reports).
func (l *lockFile) ReadHolder() *holderMeta {
	data, err := os.ReadFile(l.path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var meta holderMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	if meta.PID <= 0 {
		return nil
	}
	return &meta
}

// Release unlocks and removes the artifact on clean shutdown.
func (l *lockFile) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", l.path, err)
	}
	return nil
}

// RemoveStale unlinks the artifact of a dead or displaced holder. A fresh
// flock is taken on the new inode afterwards; a surviving holder's flock on
// the unlinked inode no longer guards anything we care about.
func (l *lockFile) RemoveStale() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock %s: %w", l.path, err)
	}
	// Re-point the flock at the path so the next TryAcquire opens the
	// new inode instead of the unlinked one.
	l.fl = flock.New(l.path)
	return nil
}

// currentHolderMeta describes this process for the lock artifact.
func currentHolderMeta() holderMeta {
	hostname, _ := os.Hostname()
	command := ""
	if len(os.Args) > 0 {
		command = os.Args[0]
	}
	return holderMeta{
		PID:        int32(os.Getpid()),
		ParentPID:  int32(os.Getppid()),
		Hostname:   hostname,
		Command:    command,
		AcquiredAt: time.Now().UTC(),
	}
}
