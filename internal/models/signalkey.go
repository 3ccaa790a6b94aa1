package models

// SignalKey is one entry of a session's Signal-protocol key material,
// identified by (sessionId, type, keyId). A row is deleted when its value
// is explicitly set to null, and all of a session's rows cascade-delete on
// logout.
type SignalKey struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	SessionID uint     `gorm:"not null;uniqueIndex:idx_signal_keys_identity" json:"sessionId"`
	Type      string   `gorm:"type:varchar(64);not null;uniqueIndex:idx_signal_keys_identity" json:"type"`
	KeyID     string   `gorm:"type:varchar(64);not null;uniqueIndex:idx_signal_keys_identity" json:"keyId"`
	Value     RawBytes `gorm:"type:bytea;not null" json:"value"`
}

func (SignalKey) TableName() string { return "signal_keys" }
