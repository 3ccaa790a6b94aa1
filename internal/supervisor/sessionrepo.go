package supervisor

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

// sessionRepo owns the Session row: created on first QR request, mutated
// by the Supervisor, never deleted.
type sessionRepo struct {
	db *gorm.DB
}

func newSessionRepo(db *gorm.DB) *sessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) getByApiKey(apiKey string) (*models.Session, error) {
	var session models.Session
	err := r.db.Where("api_key = ?", apiKey).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor: getByApiKey: %w", err)
	}
	return &session, nil
}

// upsert creates the row on first sight; on an existing row it only
// overwrites displayName when a non-nil value is supplied.
func (r *sessionRepo) upsert(apiKey string, displayName *string) (*models.Session, error) {
	session, err := r.getByApiKey(apiKey)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &models.Session{ApiKey: apiKey, DisplayName: displayName, Status: models.StatusDisconnected}
		if err := r.db.Create(session).Error; err != nil {
			return nil, fmt.Errorf("supervisor: upsert: create: %w", err)
		}
		return session, nil
	}

	if displayName != nil {
		session.DisplayName = displayName
		if err := r.db.Save(session).Error; err != nil {
			return nil, fmt.Errorf("supervisor: upsert: save: %w", err)
		}
	}
	return session, nil
}

func (r *sessionRepo) setStatus(sessionID uint, status models.SessionStatus) error {
	err := r.db.Model(&models.Session{}).Where("id = ?", sessionID).Update("status", status).Error
	if err != nil {
		return fmt.Errorf("supervisor: setStatus: %w", err)
	}
	return nil
}

// listAll returns every session row, newest first, for the admin/listing
// surface.
func (r *sessionRepo) listAll() ([]models.Session, error) {
	var sessions []models.Session
	if err := r.db.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("supervisor: listAll: %w", err)
	}
	return sessions, nil
}

// listWarmable returns every session eligible for warm reconnect on
// process start: status CONNECTED or DISCONNECTED, with stored
// credentials, so a logged-out or never-paired session never
// auto-triggers a QR.
func (r *sessionRepo) listWarmable() ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.Where("status IN ? AND credential IS NOT NULL", []models.SessionStatus{
		models.StatusConnected, models.StatusDisconnected,
	}).Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("supervisor: listWarmable: %w", err)
	}
	return sessions, nil
}
