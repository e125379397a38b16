package provider

import "errors"

var (
	// ErrRefreshTokenNotFound is returned when the backend no longer knows the refresh token.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrInvalidRefreshToken is returned when the refresh token was rejected, revoked or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrUnavailable is returned when the backend could not be reached.
	ErrUnavailable = errors.New("auth backend unavailable")

	// ErrInvalidCredentials is returned when a sign in is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsTerminal returns true if the error means the session can only be recovered by
// signing in again.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRefreshTokenNotFound) || errors.Is(err, ErrInvalidRefreshToken)
}
