// Package provider defines the boundary to the backend auth service: the
// capability set the session coordinator consumes, the error taxonomy it uses to
// tell terminal refresh failures from transient ones, and a listener fan-out
// shared by the implementations.
package provider

import (
	"context"

	"github.com/wolfeidau/authkeeper/internal/models"
)

// Listener receives auth state transitions.
type Listener func(event models.Event, session *models.Session)

// Subscription is a registered Listener.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// Provider is the backend auth service.
type Provider interface {
	// GetSession returns the current session known to the backend, nil if signed out.
	GetSession(ctx context.Context) (*models.Session, error)

	// RefreshSession exchanges a refresh token for a new session.
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)

	// SignOut invalidates the session on the backend.
	SignOut(ctx context.Context, session *models.Session) error

	// OnAuthStateChange registers a listener for auth state transitions.
	OnAuthStateChange(listener Listener) Subscription
}
