package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a managed session.
type SessionStatus string

const (
	StatusConnected    SessionStatus = "CONNECTED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusQR           SessionStatus = "QR"
	StatusLoggedOut    SessionStatus = "LOGGED_OUT"
	StatusError        SessionStatus = "ERROR"
)

// IsValid reports whether s is one of the five statuses the engine uses.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusQR, StatusLoggedOut, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status only leaves via an explicit new QR request.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusLoggedOut
}

// Session is the persisted row backing a ManagedSession. It is created on
// first QR request and never deleted; logout clears credentials but keeps
// the row so history survives.
type Session struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	ApiKey      string        `gorm:"type:varchar(128);uniqueIndex;not null" json:"apiKey"`
	DisplayName *string       `gorm:"type:varchar(255)" json:"displayName,omitempty"`
	Status      SessionStatus `gorm:"type:varchar(20);not null;default:'DISCONNECTED';index:idx_sessions_status" json:"status"`
	Credential  RawBytes      `gorm:"type:bytea" json:"-"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Session) TableName() string { return "sessions" }

// SetStatus transitions the row's status, the authoritative record a
// restarted process reads back on warm-up.
func (s *Session) SetStatus(status SessionStatus) {
	s.Status = status
}

// ClearCredential removes the root credential blob, done on explicit logout.
func (s *Session) ClearCredential() {
	s.Credential = nil
}
