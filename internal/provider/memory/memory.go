// Package memory is an in-process auth backend. It behaves like a hosted auth
// service from the coordinator's point of view and is used by tests and the demo.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/provider"
	"github.com/wolfeidau/authkeeper/internal/tokenclock"
)

var _ provider.Provider = (*Provider)(nil)

// DefaultSessionTTL is the lifetime of sessions minted by the provider.
const DefaultSessionTTL = time.Hour

// Provider implements provider.Provider using in-memory state.
type Provider struct {
	mu sync.Mutex

	session    *models.Session
	clock      tokenclock.Clock
	sessionTTL time.Duration
	serial     int

	getErr        error
	refreshErr    error
	signOutErr    error
	refreshResult *models.Session
	gate          chan struct{}

	getCalls     atomic.Int64
	refreshCalls atomic.Int64
	signOutCalls atomic.Int64

	events provider.Broadcaster
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock used to compute session expiry.
func WithClock(clock tokenclock.Clock) Option {
	return func(p *Provider) {
		p.clock = clock
	}
}

// WithSessionTTL sets the lifetime of minted sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.sessionTTL = ttl
	}
}

// WithSession starts the provider with an existing session, as if restored from storage.
func WithSession(session *models.Session) Option {
	return func(p *Provider) {
		p.session = session
	}
}

// New creates an in-memory provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		clock:      tokenclock.Real(),
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetSession implements provider.Provider.
func (p *Provider) GetSession(ctx context.Context) (*models.Session, error) {
	p.getCalls.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.session, nil
}

// RefreshSession implements provider.Provider.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	p.refreshCalls.Add(1)

	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", provider.ErrUnavailable, ctx.Err())
		}
	}

	p.mu.Lock()
	if p.refreshErr != nil {
		err := p.refreshErr
		p.mu.Unlock()
		return nil, err
	}

	if p.session == nil || p.session.RefreshToken != refreshToken {
		p.mu.Unlock()
		log.Debug().Str("fingerprint", models.Fingerprint(refreshToken)).Msg("unknown refresh token")
		return nil, provider.ErrRefreshTokenNotFound
	}

	next := p.refreshResult
	p.refreshResult = nil
	if next == nil {
		next = p.mintLocked(p.session.User)
	}
	p.session = next
	p.mu.Unlock()

	p.events.Emit(models.EventTokenRefreshed, next)

	return next, nil
}

// SignOut implements provider.Provider.
func (p *Provider) SignOut(ctx context.Context, session *models.Session) error {
	p.signOutCalls.Add(1)

	p.mu.Lock()
	err := p.signOutErr
	p.session = nil
	p.mu.Unlock()

	p.events.Emit(models.EventSignedOut, nil)

	return err
}

// OnAuthStateChange implements provider.Provider. A listener subscribing while a
// session exists immediately receives SIGNED_IN, the same event a new login produces.
func (p *Provider) OnAuthStateChange(listener provider.Listener) provider.Subscription {
	sub := p.events.Subscribe(listener)

	p.mu.Lock()
	current := p.session
	p.mu.Unlock()

	if current != nil {
		listener(models.EventSignedIn, current)
	}

	return sub
}

// SignIn simulates a login completed outside the coordinator.
func (p *Provider) SignIn(user *models.User) *models.Session {
	p.mu.Lock()
	session := p.mintLocked(user)
	p.session = session
	p.mu.Unlock()

	p.events.Emit(models.EventSignedIn, session)

	return session
}

// UpdateUser replaces the user on the current session and emits USER_UPDATED.
func (p *Provider) UpdateUser(user *models.User) *models.Session {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil
	}
	updated := *p.session
	updated.User = user
	p.session = &updated
	p.mu.Unlock()

	p.events.Emit(models.EventUserUpdated, &updated)

	return &updated
}

// SetSession replaces the backend session without emitting an event.
func (p *Provider) SetSession(session *models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
}

// Session returns the backend's current session.
func (p *Provider) Session() *models.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// SetGetSessionError makes GetSession fail with err, nil clears it.
func (p *Provider) SetGetSessionError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getErr = err
}

// SetRefreshError makes RefreshSession fail with err, nil clears it.
func (p *Provider) SetRefreshError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr = err
}

// SetSignOutError makes SignOut return err after clearing the session.
func (p *Provider) SetSignOutError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutErr = err
}

// SetRefreshResult makes the next successful refresh return session.
func (p *Provider) SetRefreshResult(session *models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshResult = session
}

// HoldRefreshes blocks refresh calls until the returned release func is called.
func (p *Provider) HoldRefreshes() (release func()) {
	gate := make(chan struct{})

	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
		})
	}
}

// GetSessionCalls returns the number of GetSession calls.
func (p *Provider) GetSessionCalls() int64 {
	return p.getCalls.Load()
}

// RefreshCalls returns the number of RefreshSession calls.
func (p *Provider) RefreshCalls() int64 {
	return p.refreshCalls.Load()
}

// SignOutCalls returns the number of SignOut calls.
func (p *Provider) SignOutCalls() int64 {
	return p.signOutCalls.Load()
}

// Listeners returns the number of subscribed listeners.
func (p *Provider) Listeners() int {
	return p.events.Len()
}

func (p *Provider) mintLocked(user *models.User) *models.Session {
	p.serial++
	return &models.Session{
		AccessToken:  fmt.Sprintf("access-%d", p.serial),
		RefreshToken: fmt.Sprintf("refresh-%d", p.serial),
		ExpiresAt:    p.clock.Now().Add(p.sessionTTL).Unix(),
		User:         user,
	}
}
