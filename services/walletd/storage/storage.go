// Package storage persists the token contracts walletd tracks.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tronnode/registry"
	"tronnode/tron"
)

// Contract is a token contract row.
type Contract struct {
	ID           uint   `gorm:"primaryKey"`
	Symbol       string `gorm:"size:16;not null;uniqueIndex"`
	Name         string `gorm:"size:128"`
	Address      string `gorm:"size:34;not null;uniqueIndex"`
	DecimalPlace int    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the table name.
func (Contract) TableName() string { return "contracts" }

// AutoMigrate creates or updates the contract schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Contract{})
}

// Open connects to the configured database. For sqlite the DSN may be a plain
// path; its directory is created if missing.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		resolved, err := FileDSN(dsn)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(strings.TrimSpace(dsn), "file:") {
			if err := os.MkdirAll(filepath.Dir(strings.TrimSpace(dsn)), 0o755); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		dialector = sqlite.Open(resolved)
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// ContractStore lists and maintains contract metadata. It implements
// registry.Source.
type ContractStore struct {
	db *gorm.DB
}

var _ registry.Source = (*ContractStore)(nil)

// NewContractStore migrates the schema and returns a store.
func NewContractStore(db *gorm.DB) (*ContractStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate contracts: %w", err)
	}
	return &ContractStore{db: db}, nil
}

// ListContracts implements registry.Source. A row with an unparseable address
// is returned with Metadata.Err set so the refresh reports it against its
// symbol while the remaining rows still apply.
func (s *ContractStore) ListContracts(ctx context.Context) ([]registry.Metadata, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("contract store not configured")
	}
	var rows []Contract
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	out := make([]registry.Metadata, 0, len(rows))
	for _, row := range rows {
		meta := registry.Metadata{
			Symbol:       row.Symbol,
			Name:         row.Name,
			DecimalPlace: row.DecimalPlace,
		}
		addr, err := tron.ParseAddress(row.Address)
		if err != nil {
			meta.Err = fmt.Errorf("stored address %q: %w", row.Address, err)
		} else {
			meta.Address = addr
		}
		out = append(out, meta)
	}
	return out, nil
}

// Upsert inserts a contract or updates the row with the same symbol.
func (s *ContractStore) Upsert(ctx context.Context, meta registry.Metadata) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not configured")
	}
	symbol := tron.NormalizeSymbol(meta.Symbol)
	if symbol == "" || tron.IsNative(symbol) {
		return fmt.Errorf("invalid contract symbol %q", meta.Symbol)
	}
	if !meta.Address.Valid() {
		return fmt.Errorf("contract %s: %w", symbol, tron.ErrInvalidAddress)
	}
	row := Contract{
		Symbol:       symbol,
		Name:         strings.TrimSpace(meta.Name),
		Address:      meta.Address.String(),
		DecimalPlace: meta.DecimalPlace,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "address", "decimal_place", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert contract %s: %w", symbol, err)
	}
	return nil
}

// Delete removes the contract with symbol. Missing rows are not an error.
func (s *ContractStore) Delete(ctx context.Context, symbol string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not configured")
	}
	err := s.db.WithContext(ctx).Where("symbol = ?", tron.NormalizeSymbol(symbol)).Delete(&Contract{}).Error
	if err != nil {
		return fmt.Errorf("delete contract %s: %w", symbol, err)
	}
	return nil
}

// SeedTokens fills an empty store from the static token table of network and
// reports how many rows were written. A store that already holds contracts is
// left alone.
func (s *ContractStore) SeedTokens(ctx context.Context, network tron.Network) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("contract store not configured")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Contract{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count contracts: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	tokens := tron.Tokens(network)
	for _, token := range tokens {
		meta := registry.Metadata{
			Symbol:       token.Symbol,
			Name:         token.Name,
			Address:      token.Address,
			DecimalPlace: token.Decimals,
		}
		if err := s.Upsert(ctx, meta); err != nil {
			return 0, err
		}
	}
	return len(tokens), nil
}
