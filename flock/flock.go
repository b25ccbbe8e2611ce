// Package flock provides try-acquire advisory file locks,
// lock held by another process is a regular outcome and not an error
package flock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is an acquired exclusive lock
type Lock struct {
	f *os.File
}

// TryAcquire takes exclusive lock on path without blocking.
// Returns nil lock with false if the lock is held elsewhere.
func TryAcquire(path string) (*Lock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("flock: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("flock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			slog.Debug("lock is held elsewhere", "path", path)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock: %s: %w", path, err)
	}
	slog.Debug("lock acquired", "path", path)
	return &Lock{f: f}, true, nil
}

// Release unlocks and closes the lock file, nil lock is noop
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	slog.Debug("lock released", "path", l.f.Name())
	l.f = nil
	return err
}
