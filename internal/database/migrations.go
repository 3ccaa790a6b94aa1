package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

// RunMigrations creates or updates the gateway's own tables. The device
// cryptographic state lives in a separate schema managed by whatsmeow's
// sqlstore.Container.Upgrade, invoked independently at startup.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ApiKey{},
		&models.Session{},
		&models.SignalKey{},
		&models.SessionLock{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_signal_keys_identity ON signal_keys(session_id, type, key_id)`,
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w\nIndex: %s", err, index)
		}
	}

	return nil
}

// DropAllTables drops every table the gateway owns. Used by tests that
// need a clean schema between runs.
func DropAllTables(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&models.SignalKey{},
		&models.SessionLock{},
		&models.Session{},
		&models.ApiKey{},
	)
}
