// Package credentials implements the Credential Store: opaque durable
// storage of a session's root credential blob and its Signal-protocol key
// material, with binary-safe round-tripping of arbitrary byte buffers.
package credentials

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fahrizalm14/wasap-gateway/internal/database"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

// Creds is an opaque, already-serialised credential blob. Any byte buffers
// nested inside it are expected to have been marshaled through
// models.RawBytes by the caller, so the blob round-trips losslessly.
type Creds = models.RawBytes

// KeyDump is a (type -> keyId -> value) snapshot of a session's signal
// keys, used for diagnostics.
type KeyDump map[string]map[string]models.RawBytes

// CredentialDump is the read-only export returned by GetCredentialDump.
type CredentialDump struct {
	Creds Creds   `json:"creds"`
	Keys  KeyDump `json:"keys"`
}

// Store is the gorm-backed Credential Store.
type Store struct {
	db *gorm.DB
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadCreds returns the session's root credential blob, or nil if none is
// stored.
func (s *Store) LoadCreds(sessionID uint) (Creds, error) {
	var session models.Session
	err := s.db.Select("credential").Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("credentials: loadCreds: %w", err)
	}
	return session.Credential, nil
}

// SaveCreds atomically writes the root credential blob, so concurrent
// rapid key rotation never interleaves to a torn state.
func (s *Store) SaveCreds(sessionID uint, creds Creds) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		return tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Update("credential", creds).Error
	})
}

// LoadKeys returns an entry, possibly nil, for every requested id.
func (s *Store) LoadKeys(sessionID uint, keyType string, ids []string) (map[string]models.RawBytes, error) {
	result := make(map[string]models.RawBytes, len(ids))
	for _, id := range ids {
		result[id] = nil
	}
	if len(ids) == 0 {
		return result, nil
	}

	var rows []models.SignalKey
	err := s.db.Where("session_id = ? AND type = ? AND key_id IN ?", sessionID, keyType, ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("credentials: loadKeys: %w", err)
	}

	for _, row := range rows {
		result[row.KeyID] = row.Value
	}
	return result, nil
}

// SetKeysRequest is the payload for SetKeys: a mapping from key type to a
// mapping from keyId to value-or-nil, where nil means delete.
type SetKeysRequest struct {
	SessionID uint
	Values    map[string]map[string]models.RawBytes
}

// SetKeys upserts every present value and deletes every nil value in one
// logical transaction.
func (s *Store) SetKeys(req SetKeysRequest) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		for keyType, byID := range req.Values {
			for keyID, value := range byID {
				if value == nil {
					err := tx.Where("session_id = ? AND type = ? AND key_id = ?", req.SessionID, keyType, keyID).
						Delete(&models.SignalKey{}).Error
					if err != nil {
						return fmt.Errorf("credentials: setKeys: delete %s/%s: %w", keyType, keyID, err)
					}
					continue
				}

				row := models.SignalKey{
					SessionID: req.SessionID,
					Type:      keyType,
					KeyID:     keyID,
					Value:     value,
				}
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "session_id"}, {Name: "type"}, {Name: "key_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"value"}),
				}).Create(&row).Error
				if err != nil {
					return fmt.Errorf("credentials: setKeys: upsert %s/%s: %w", keyType, keyID, err)
				}
			}
		}
		return nil
	})
}

// ClearSessionData deletes all of a session's keys and nulls its root
// credential blob atomically, used on explicit logout.
func (s *Store) ClearSessionData(sessionID uint) error {
	return database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.SignalKey{}).Error; err != nil {
			return fmt.Errorf("credentials: clearSessionData: delete keys: %w", err)
		}
		err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Update("credential", nil).Error
		if err != nil {
			return fmt.Errorf("credentials: clearSessionData: clear creds: %w", err)
		}
		return nil
	})
}

// GetCredentialDump is a read-only export of a session's credential and
// keys, used for diagnostics.
func (s *Store) GetCredentialDump(sessionID uint) (*CredentialDump, error) {
	creds, err := s.LoadCreds(sessionID)
	if err != nil {
		return nil, err
	}

	var rows []models.SignalKey
	if err := s.db.Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credentials: getCredentialDump: %w", err)
	}

	keys := make(KeyDump)
	for _, row := range rows {
		if keys[row.Type] == nil {
			keys[row.Type] = make(map[string]models.RawBytes)
		}
		keys[row.Type][row.KeyID] = row.Value
	}

	return &CredentialDump{Creds: creds, Keys: keys}, nil
}
