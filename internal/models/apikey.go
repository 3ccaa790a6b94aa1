package models

import "time"

// ApiKey is a tenant's opaque bearer credential. Rows are never
// hard-deleted; deactivation only flips IsActive so history and any still
// running session survive.
type ApiKey struct {
	Key       string    `gorm:"type:varchar(128);primaryKey" json:"key"`
	Label     *string   `gorm:"type:varchar(255)" json:"label,omitempty"`
	IsActive  bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ApiKey) TableName() string { return "api_keys" }
