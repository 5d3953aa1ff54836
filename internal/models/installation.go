package models

import (
	"encoding/json"
	"time"
)

// Installation is the token record kept for one tenant of the platform.
type Installation struct {
	InstanceID  string    `json:"instance_id"`
	AccessToken string    `json:"-"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Expired reports whether the access token can no longer be used at now.
// A token whose expiry equals now (after subtracting margin) is expired.
func (i *Installation) Expired(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(i.ExpiresAt)
}

// InstallationView is the diagnostic projection of an Installation.
type InstallationView struct {
	InstanceID string    `json:"instance_id"`
	TokenType  string    `json:"token_type"`
	ExpiresAt  int64     `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	IsExpired  bool      `json:"is_expired"`
}

// View projects the record for listing, dropping the access token.
func (i *Installation) View(now time.Time) InstallationView {
	return InstallationView{
		InstanceID: i.InstanceID,
		TokenType:  i.TokenType,
		ExpiresAt:  i.ExpiresAt.UnixMilli(),
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
		IsExpired:  i.Expired(now, 0),
	}
}

// storedInstallation is the full serialized form used by key-value backends.
type storedInstallation struct {
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// EncodeInstallation serializes a record including its access token.
func EncodeInstallation(i *Installation) ([]byte, error) {
	return json.Marshal(storedInstallation{
		InstanceID:  i.InstanceID,
		AccessToken: i.AccessToken,
		TokenType:   i.TokenType,
		ExpiresAt:   i.ExpiresAt.UnixMilli(),
		CreatedAt:   i.CreatedAt.UnixMilli(),
		UpdatedAt:   i.UpdatedAt.UnixMilli(),
	})
}

// DecodeInstallation is the inverse of EncodeInstallation.
func DecodeInstallation(data []byte) (*Installation, error) {
	var s storedInstallation
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &Installation{
		InstanceID:  s.InstanceID,
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		ExpiresAt:   time.UnixMilli(s.ExpiresAt).UTC(),
		CreatedAt:   time.UnixMilli(s.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(s.UpdatedAt).UTC(),
	}, nil
}
