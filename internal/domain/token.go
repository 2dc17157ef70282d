package domain

import (
	"fmt"
	"time"
)

// AccessToken is a hashed bearer credential belonging to a user. Only
// the hash is stored; the plaintext token is shown once at issue time.
type AccessToken struct {
	ID        string
	UserID    string
	Name      string
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// IsRevoked reports whether the token has been revoked
func (t *AccessToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// ValidateAccessToken validates an AccessToken instance
func ValidateAccessToken(t *AccessToken) error {
	if t == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	if t.ID == "" {
		return fmt.Errorf("access token ID is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("access token UserID is required")
	}
	if t.TokenHash == "" {
		return fmt.Errorf("access token TokenHash is required")
	}
	return nil
}
