// Package lock implements the Session Lock: a persistent advisory lease,
// keyed by apiKey, that grants one process exclusive ownership of a
// session's live upstream socket.
package lock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fahrizalm14/wasap-gateway/internal/database"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

// TTL is how long an acquired lease stays valid without a touch before it
// is considered stale and may be stolen by another owner.
const TTL = 5 * time.Minute

// Manager is the gorm-backed Session Lock, named after the pack's
// LeaseManager contract.
type Manager struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// New builds a Manager over db using the package TTL.
func New(db *gorm.DB) *Manager {
	return &Manager{db: db, ttl: TTL, now: time.Now}
}

// TryAcquire atomically creates, refreshes or steals the lease row for
// apiKey, returning false (never an error) on ordinary contention so
// callers can retry without treating it as a failure.
func (m *Manager) TryAcquire(apiKey, ownerID string) (bool, error) {
	acquired := false
	err := database.WithTransaction(m.db, func(tx *gorm.DB) error {
		var row models.SessionLock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("api_key = ?", apiKey).First(&row).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// SELECT ... FOR UPDATE cannot lock a row that doesn't exist yet,
			// so two owners can both land here for the same apiKey; the loser's
			// Create hits the primary-key uniqueness constraint.
			row = models.SessionLock{ApiKey: apiKey, OwnerID: ownerID, AcquiredAt: m.now()}
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					acquired = false
					return nil
				}
				return err
			}
			acquired = true
			return nil

		case err != nil:
			return err

		case row.OwnerID == ownerID:
			row.AcquiredAt = m.now()
			acquired = true
			return tx.Save(&row).Error

		case row.IsStale(m.ttl, m.now()):
			row.OwnerID = ownerID
			row.AcquiredAt = m.now()
			acquired = true
			return tx.Save(&row).Error

		default:
			acquired = false
			return nil
		}
	})
	if err != nil {
		return false, fmt.Errorf("lock: tryAcquire: %w", err)
	}
	return acquired, nil
}

// Touch refreshes the lease only if ownerID currently holds it; otherwise
// it is a silent no-op.
func (m *Manager) Touch(apiKey, ownerID string) error {
	err := m.db.Model(&models.SessionLock{}).
		Where("api_key = ? AND owner_id = ?", apiKey, ownerID).
		Update("acquired_at", m.now()).Error
	if err != nil {
		return fmt.Errorf("lock: touch: %w", err)
	}
	return nil
}

// Release deletes the lease row only if ownerID currently holds it.
func (m *Manager) Release(apiKey, ownerID string) error {
	err := m.db.Where("api_key = ? AND owner_id = ?", apiKey, ownerID).
		Delete(&models.SessionLock{}).Error
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// ReleaseAll deletes every lease row owned by ownerID, used on graceful
// shutdown so a restarted process doesn't wait out the TTL.
func (m *Manager) ReleaseAll(ownerID string) error {
	err := m.db.Where("owner_id = ?", ownerID).Delete(&models.SessionLock{}).Error
	if err != nil {
		return fmt.Errorf("lock: releaseAll: %w", err)
	}
	return nil
}

// IsOwned reports the current owner of apiKey's lease, or "" if none is
// held.
func (m *Manager) IsOwned(apiKey string) (string, error) {
	var row models.SessionLock
	err := m.db.Where("api_key = ?", apiKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("lock: isOwned: %w", err)
	}
	return row.OwnerID, nil
}

// InstanceID generates a once-at-boot owner identity of the form
// "<hostname>-<pid>".
func InstanceID(hostname string, pid int) string {
	return fmt.Sprintf("%s-%d", hostname, pid)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint")
}
