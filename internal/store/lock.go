package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/indexpool/internal/errors"
)

// DirLock is an exclusive cross-process lock on a data directory, so only one
// indexpool process writes an index at a time.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock returns a lock backed by <dir>/.indexpool.lock.
func NewDirLock(dir string) *DirLock {
	p := filepath.Join(dir, ".indexpool.lock")
	return &DirLock{path: p, flock: flock.New(p)}
}

// TryLock acquires the lock without blocking. It fails with
// ERR_204_DATA_DIR_LOCKED if another process holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.IOError("create lock directory", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return errors.IOError("acquire lock", err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory %s is in use by another process", filepath.Dir(l.path)), nil).
			WithSuggestion("stop the other indexpool process or use a different data_dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Calling it on an unlocked DirLock is a no-op.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return errors.IOError("release lock", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }
