package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// IngestLock prevents two processes from ingesting into the same
// database. The lock file lives next to the database.
type IngestLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIngestLock creates a lock for the database at dbPath. The lock
// file will be <dbPath>.lock.
func NewIngestLock(dbPath string) *IngestLock {
	lockPath := dbPath + ".lock"
	return &IngestLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryAcquire attempts to take the lock without blocking. Returns false
// when another process is already ingesting into this database.
func (l *IngestLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire ingest lock: %w", err)
	}

	l.locked = acquired
	return acquired, nil
}

// Release drops the lock. Safe to call when not held.
func (l *IngestLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release ingest lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *IngestLock) Path() string {
	return l.path
}
