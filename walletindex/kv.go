package walletindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tronnode/storage"
)

// DefaultKVKey is the key the counter is stored under.
const DefaultKVKey = "walletindex/next"

// KVStore keeps the counter in a storage.Database. The database is assumed to
// be owned by this process, so updates are serialised with a local mutex.
type KVStore struct {
	mu  sync.Mutex
	db  storage.Database
	key []byte
}

// NewKVStore returns a store over db. An empty key selects DefaultKVKey.
func NewKVStore(db storage.Database, key string) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("walletindex: database required")
	}
	if key == "" {
		key = DefaultKVKey
	}
	return &KVStore{db: db, key: []byte(key)}, nil
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("walletindex: kv store not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	return s.read()
}

// Update implements Store.
func (s *KVStore) Update(ctx context.Context, fn UpdateFunc) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("walletindex: kv store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	if err := s.db.Put(s.key, []byte(formatCounter(next))); err != nil {
		return unavailable("write counter", err)
	}
	return nil
}

func (s *KVStore) read() (int64, bool, error) {
	raw, err := s.db.Get(s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("read counter", err)
	}
	value, err := parseCounter(string(raw))
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}
