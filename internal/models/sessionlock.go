package models

import "time"

// SessionLock grants exclusive ownership of a session's live socket to one
// process. At most one row exists per ApiKey; a lock is considered stale
// once now-AcquiredAt exceeds the configured TTL.
type SessionLock struct {
	ApiKey     string    `gorm:"type:varchar(128);primaryKey" json:"apiKey"`
	OwnerID    string    `gorm:"type:varchar(128);not null" json:"ownerId"`
	AcquiredAt time.Time `gorm:"not null" json:"acquiredAt"`
}

func (SessionLock) TableName() string { return "session_locks" }

// IsStale reports whether the lock was acquired longer than ttl ago.
func (l *SessionLock) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(l.AcquiredAt) > ttl
}
