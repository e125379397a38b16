// Package authclient attaches the session's access token to outgoing HTTP and
// Connect requests.
package authclient

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/wolfeidau/authkeeper/internal/lifecycle"
	"github.com/wolfeidau/authkeeper/internal/models"
)

const authorizationHeader = "Authorization"

// TokenSource supplies access tokens, lifecycle.Controller implements it.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) *models.Session
}

func bearer(token string) string {
	return "Bearer " + token
}

// connectCode picks the status reported when no token could be obtained.
func connectCode(err error) connect.Code {
	if errors.Is(err, lifecycle.ErrNotAuthenticated) {
		return connect.CodeUnauthenticated
	}
	return connect.CodeUnavailable
}
