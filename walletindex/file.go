package walletindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps the counter as a decimal integer in a text file. Updates hold
// an exclusive flock on a sibling ".lock" file so several processes on one host
// can share the counter, and replace the file atomically via rename.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore returns a store persisting to path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("walletindex: counter path required")
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("walletindex: create counter directory: %w", err)
		}
	}
	return &FileStore{path: trimmed, lock: flock.New(trimmed + ".lock")}, nil
}

// Path returns the counter file location.
func (s *FileStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Load reads the counter without taking the lock.
func (s *FileStore) Load(ctx context.Context) (int64, bool, error) {
	if s == nil {
		return 0, false, fmt.Errorf("walletindex: file store not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	return s.read()
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn UpdateFunc) error {
	if s == nil || s.lock == nil {
		return fmt.Errorf("walletindex: file store not configured")
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return unavailable("lock counter", err)
	}
	if !locked {
		return fmt.Errorf("%w: counter lock not acquired", ErrStoreUnavailable)
	}
	defer func() { _ = s.lock.Unlock() }()

	current, ok, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	return s.write(next)
}

func (s *FileStore) read() (int64, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("read counter", err)
	}
	value, err := parseCounter(string(data))
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (s *FileStore) write(value int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "wallet-index-*.tmp")
	if err != nil {
		return unavailable("create temp counter", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.WriteString(formatCounter(value)); err != nil {
		tmp.Close()
		cleanup()
		return unavailable("write counter", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return unavailable("sync counter", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return unavailable("close counter", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		cleanup()
		return unavailable("replace counter", err)
	}
	return nil
}
