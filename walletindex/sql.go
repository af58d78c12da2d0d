package walletindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCounterName names the counter row used by the wallet service.
const DefaultCounterName = "wallets"

// Counter is the persisted row behind SQLStore.
type Counter struct {
	Name      string `gorm:"primaryKey;size:64"`
	NextIndex int64  `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (Counter) TableName() string { return "wallet_index_counters" }

// SQLStore keeps the counter in a database row and serialises updates with a
// row lock (SELECT ... FOR UPDATE), so replicas on different hosts can share it.
type SQLStore struct {
	db   *gorm.DB
	name string
}

// NewSQLStore migrates the counter table and returns a store for the named
// counter. An empty name selects DefaultCounterName.
func NewSQLStore(ctx context.Context, db *gorm.DB, name string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("walletindex: database required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCounterName
	}
	if err := db.WithContext(ctx).AutoMigrate(&Counter{}); err != nil {
		return nil, fmt.Errorf("walletindex: migrate counters: %w", err)
	}
	return &SQLStore{db: db, name: name}, nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("walletindex: sql store not configured")
	}
	var row Counter
	err := s.db.WithContext(ctx).First(&row, "name = ?", s.name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("load counter", err)
	}
	if row.NextIndex < FirstIndex {
		return 0, false, fmt.Errorf("%w: counter %d below %d", ErrStoreUnavailable, row.NextIndex, FirstIndex)
	}
	return row.NextIndex, true, nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, fn UpdateFunc) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("walletindex: sql store not configured")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Counter
		ok := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "name = ?", s.name).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ok = false
		case err != nil:
			return unavailable("lock counter", err)
		case row.NextIndex < FirstIndex:
			return fmt.Errorf("%w: counter %d below %d", ErrStoreUnavailable, row.NextIndex, FirstIndex)
		}

		next, err := fn(row.NextIndex, ok)
		if err != nil {
			return err
		}
		if !ok {
			if err := tx.Create(&Counter{Name: s.name, NextIndex: next}).Error; err != nil {
				return unavailable("create counter", err)
			}
			return nil
		}
		if err := tx.Model(&Counter{}).Where("name = ?", s.name).Update("next_index", next).Error; err != nil {
			return unavailable("write counter", err)
		}
		return nil
	})
	if err != nil {
		return unavailable("update counter", err)
	}
	return nil
}
