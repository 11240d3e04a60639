package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// LockFileName is created in the data directory while an ingest runs.
const LockFileName = ".ingest.lock"

// FileLock is a cross-process exclusive lock on the data directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for dir. Nothing is created until Lock.
func NewFileLock(dir string) *FileLock {
	p := filepath.Join(dir, LockFileName)
	return &FileLock{path: p, flock: flock.New(p)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeIndexLocked, "failed to acquire ingest lock", err).
			WithDetail("path", l.path)
	}
	if !ok {
		return ragerrors.New(ragerrors.ErrCodeIndexLocked, "ingest lock is held by another process", nil).
			WithDetail("path", l.path)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without waiting.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = ok
	return ok, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
