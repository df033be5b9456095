package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Validity is how long a freshly issued access token remains usable
const Validity = 24 * time.Hour

// Record is the persisted token state. Timestamps are RFC3339; all
// fields are optional so a partially populated record round-trips
// without invention.
type Record struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	IssuedAt     *time.Time `json:"issued_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the access token must be replaced. A missing
// token is always expired; a token without an expiry timestamp is
// trusted as-is (externally issued).
func (r Record) Expired(now time.Time) bool {
	if r.AccessToken == "" {
		return true
	}
	if r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// Empty reports whether the record carries no credentials at all
func (r Record) Empty() bool {
	return r.AccessToken == "" && r.RefreshToken == ""
}

// Encode renders the record as base64-wrapped JSON for storage
func (r Record) Encode() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)
	return encoded, nil
}

// DecodeRecord parses stored bytes. Files written before encoding was
// introduced hold plain JSON, so a failed base64 pass falls back to
// parsing the raw bytes.
func DecodeRecord(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Record{}, nil
	}

	if raw, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		var rec Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return rec, nil
		}
	}

	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse token record: %w", err)
	}
	return rec, nil
}
