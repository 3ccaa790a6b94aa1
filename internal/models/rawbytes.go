package models

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// RawBytes is a binary-safe JSON value. Credential blobs and signal keys
// are stored in the database as raw bytea (see Scan/Value); when marshaled
// to JSON, as in a credential dump, they are wrapped in a tagged base64
// envelope, which makes the JSON round trip lossless in both directions.
type RawBytes []byte

type rawBytesEnvelope struct {
	Bytes string `json:"__bytes__"`
}

func (r RawBytes) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(rawBytesEnvelope{Bytes: base64.StdEncoding.EncodeToString(r)})
}

func (r *RawBytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = nil
		return nil
	}
	var env rawBytesEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("rawbytes: invalid envelope: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Bytes)
	if err != nil {
		return fmt.Errorf("rawbytes: invalid base64: %w", err)
	}
	*r = decoded
	return nil
}

// Scan implements sql.Scanner so gorm can read bytea columns directly.
func (r *RawBytes) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("rawbytes: unsupported scan type %T", value)
	}
	*r = append(RawBytes(nil), b...)
	return nil
}

// Value implements driver.Valuer so gorm can write bytea columns directly.
func (r RawBytes) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return []byte(r), nil
}
