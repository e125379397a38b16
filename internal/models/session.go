package models

import (
	"crypto/sha256"
	"time"

	"github.com/mr-tron/base58"
)

// Session is the bearer credential issued by the auth backend.
// ExpiresAt is an absolute Unix timestamp in seconds, zero when the backend did not
// report an expiry.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`

	// User is optional, providers which return the principal alongside the tokens
	// attach it here, otherwise it is decoded from the access token.
	User *User `json:"user,omitempty"`
}

// IsComplete returns true if both tokens are present. Incomplete sessions are
// treated as absent everywhere.
func (s *Session) IsComplete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// HasExpiry returns true if the backend reported an expiry for this session.
func (s *Session) HasExpiry() bool {
	return s != nil && s.ExpiresAt > 0
}

// Expiry returns ExpiresAt as a time, the zero time if unset.
func (s *Session) Expiry() time.Time {
	if !s.HasExpiry() {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// IsExpired returns true if the access token expired before now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.HasExpiry() && !now.Before(s.Expiry())
}

// Principal returns the user attached to the session or the one decoded from
// the access token claims.
func (s *Session) Principal() *User {
	if s == nil {
		return nil
	}
	if s.User != nil {
		return s.User
	}
	return UserFromToken(s.AccessToken)
}

// Fingerprint returns a short Base58 SHA256 digest of a token, safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:])[:12]
}
