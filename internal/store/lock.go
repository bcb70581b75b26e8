package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// storeLock is a cross-process exclusive lock over a DocumentStore's data
// directory, held from Open until Close so two processes never write
// the same SQLite file, HNSW snapshot, and Bleve index concurrently.
type storeLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newStoreLock(dataDir string) *storeLock {
	path := filepath.Join(dataDir, ".store.lock")
	return &storeLock{path: path, flock: flock.New(path)}
}

func (l *storeLock) lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	l.locked = true
	return nil
}

func (l *storeLock) unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release store lock: %w", err)
	}
	return nil
}
