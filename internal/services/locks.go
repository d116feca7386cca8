package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/pipeline"
)

// OutputLock is an exclusive advisory lock on one job output directory.
// The lock file lives beside the directory, so archiving never sees it.
type OutputLock struct {
	dir    string
	lock   *flock.Flock
	logger *lib.Logger
}

// LockPath returns the lock file guarding dir: .<dirname>.lock in its parent
func LockPath(dir string) string {
	clean := filepath.Clean(dir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

// AcquireOutputLock takes the output lock without blocking.
// Returns ErrOutputLocked if another process holds it.
func AcquireOutputLock(dir string, logger *lib.Logger) (*OutputLock, error) {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	lockPath := LockPath(dir)

	// Ensure the parent directory exists
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, lib.ErrOutputLocked(dir)
	}

	logger.Debug("Acquired output lock", "dir", dir, "pid", os.Getpid())
	return &OutputLock{dir: dir, lock: lock, logger: logger}, nil
}

// Close releases the lock
func (l *OutputLock) Close() error {
	if l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		l.logger.Warn("Failed to release output lock", "dir", l.dir, "error", err)
		return err
	}
	l.logger.Debug("Released output lock", "dir", l.dir, "pid", os.Getpid())
	l.lock = nil
	return nil
}

// IsOutputLocked checks if a directory is currently locked by any process
// This is a non-destructive check that doesn't keep the lock
func IsOutputLocked(dir string) bool {
	lockPath := LockPath(dir)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = lock.Unlock()
		return false
	}
	return true
}

// OutputLocker adapts AcquireOutputLock to the orchestrator's locker hook
func OutputLocker(logger *lib.Logger) pipeline.Locker {
	return func(dir string) (io.Closer, error) {
		lock, err := AcquireOutputLock(dir, logger)
		if err != nil {
			return nil, err
		}
		return lock, nil
	}
}
