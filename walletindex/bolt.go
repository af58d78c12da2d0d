package walletindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("walletindex")

var errBoltMissing = errors.New("counter missing")

// BoltStore keeps counters in a bbolt file, one key per counter name. bbolt
// holds an exclusive file lock while open, so a single process owns the file
// and update transactions serialise allocations.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

// OpenBoltStore opens (creating if needed) the bbolt file at path. An empty name
// selects DefaultCounterName.
func OpenBoltStore(path, name string, options *bolt.Options) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("walletindex: bolt path required")
	}
	if name == "" {
		name = DefaultCounterName
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("walletindex: create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, unavailable("open bolt", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, unavailable("create bucket", err)
	}
	return &BoltStore{db: db, key: []byte(name)}, nil
}

// Close releases the bbolt handle and its file lock.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements Store.
func (s *BoltStore) Load(ctx context.Context) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("walletindex: bolt store not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var value int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		value, err = readBolt(tx, s.key)
		return err
	})
	if errors.Is(err, errBoltMissing) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("read counter", err)
	}
	return value, true, nil
}

// Update implements Store. fn runs inside the write transaction; an error from
// fn rolls it back.
func (s *BoltStore) Update(ctx context.Context, fn UpdateFunc) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("walletindex: bolt store not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := readBolt(tx, s.key)
		ok := true
		if errors.Is(err, errBoltMissing) {
			current, ok = 0, false
		} else if err != nil {
			return err
		}
		next, err := fn(current, ok)
		if err != nil {
			fnErr = err
			return err
		}
		return tx.Bucket(boltBucket).Put(s.key, []byte(formatCounter(next)))
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return unavailable("update counter", err)
	}
	return nil
}

func readBolt(tx *bolt.Tx, key []byte) (int64, error) {
	raw := tx.Bucket(boltBucket).Get(key)
	if raw == nil {
		return 0, errBoltMissing
	}
	return parseCounter(string(raw))
}
