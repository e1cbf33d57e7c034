// Package sqlite implements the engine repositories on an embedded SQLite
// database through gorm, for single-node runs and tests.
package sqlite

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// DB wraps a gorm connection with the engine schema migrated.
type DB struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the schema.
// Use "file:name?mode=memory&cache=shared" for an in-memory database.
func Open(dsn string) (*DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	if err := conn.AutoMigrate(
		&accountModel{}, &purchaseModel{},
		&marketModel{},
		&impactModel{}, &donationModel{},
		&auditModel{},
	); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &DB{db: conn}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *DB) conn(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Stores returns the repositories backed by d.
func (d *DB) Stores() domain.Stores {
	return domain.Stores{
		Accounts: &AccountStore{d: d},
		Impact:   &ImpactStore{d: d},
		Markets:  &MarketStore{d: d},
		Audit:    &AuditStore{d: d},
	}
}
