package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated principal derived from a Session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Claims are the access token claims used to derive a User.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// ParseClaims decodes the access token claims without verifying the signature,
// verification belongs to the backend which issued it.
func ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// UserFromToken derives a User from an access token. Opaque tokens yield an
// anonymous user with no ID.
func UserFromToken(accessToken string) *User {
	if accessToken == "" {
		return nil
	}

	claims, err := ParseClaims(accessToken)
	if err != nil {
		return &User{}
	}

	return &User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}
}

// ExpiryFromToken returns the exp claim of a JWT access token as Unix seconds, zero
// if the token is opaque or carries no exp.
func ExpiryFromToken(accessToken string) int64 {
	claims, err := ParseClaims(accessToken)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}
