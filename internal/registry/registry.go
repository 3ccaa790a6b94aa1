// Package registry implements the Tenant Key Registry: issuing, listing
// and retiring the opaque API keys that identify a tenant's session.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

const (
	keyPrefix          = "wg_"
	keyEntropyBytes    = 24 // 192 bits
	maxGenerateRetries = 5
)

// Registry is the gorm-backed Tenant Key Registry, following the teacher's
// constructor-injection repository shape.
type Registry struct {
	db *gorm.DB
}

// New builds a Registry over db.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// List returns all keys, newest first.
func (r *Registry) List() ([]models.ApiKey, error) {
	var keys []models.ApiKey
	if err := r.db.Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return keys, nil
}

// Generate issues a new key with an optional label, retrying on unique
// collision up to maxGenerateRetries before surfacing a KeyExhaustion
// failure.
func (r *Registry) Generate(label *string) (*models.ApiKey, error) {
	for attempt := 0; attempt < maxGenerateRetries; attempt++ {
		key, err := randomKey()
		if err != nil {
			return nil, fmt.Errorf("registry: generate key: %w", err)
		}

		record := &models.ApiKey{Key: key, Label: label, IsActive: true}
		err = r.db.Create(record).Error
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("registry: create: %w", err)
		}
	}
	return nil, engineerr.KeyExhaustion()
}

// AssertActive trims whitespace and returns the key iff it exists and is
// active. Missing and deactivated keys are indistinguishable to the
// caller so key existence is never leaked.
func (r *Registry) AssertActive(key string) (*models.ApiKey, error) {
	key = strings.TrimSpace(key)

	var record models.ApiKey
	err := r.db.Where("key = ? AND is_active = ?", key, true).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engineerr.KeyNotRegistered()
		}
		return nil, fmt.Errorf("registry: assertActive: %w", err)
	}
	return &record, nil
}

// Deactivate flips isActive to false. Returns nil, nil when the key did
// not exist.
func (r *Registry) Deactivate(key string) (*models.ApiKey, error) {
	var record models.ApiKey
	err := r.db.Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: deactivate: lookup: %w", err)
	}

	record.IsActive = false
	if err := r.db.Save(&record).Error; err != nil {
		return nil, fmt.Errorf("registry: deactivate: save: %w", err)
	}
	return &record, nil
}

func randomKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint")
}
