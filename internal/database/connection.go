// Package database wires the gateway's GORM connection and schema
// bootstrap, following the teacher's Connection/WithTransaction shape.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fahrizalm14/wasap-gateway/internal/config"
)

// Connection represents a database connection
type Connection struct {
	DB    *gorm.DB
	SqlDB *sql.DB
}

// NewConnection creates a new database connection from a config.Config's
// DATABASE_URL, following the libpq connection-string convention.
func NewConnection(cfg *config.Config) (*Connection, error) {
	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{
		DB:    db,
		SqlDB: sqlDB,
	}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	if c.SqlDB != nil {
		return c.SqlDB.Close()
	}
	return nil
}

// WithTransaction runs fn inside a transaction on db, rolling back on error
// or panic and committing otherwise. Used by the Credential Store and
// Session Lock for their atomic multi-statement steps.
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
