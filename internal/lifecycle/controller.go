// Package lifecycle owns the authenticated session for the lifetime of the
// application. It is the single source of truth for whether the user is signed
// in, keeps one refresh timer ahead of the session's expiry, reacts to auth events
// from the backend and signs out when a session can't be recovered.
//
// Consumers read state through GetAccessToken, GetSession and User; no consumer
// writes session state directly.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/provider"
	"github.com/wolfeidau/authkeeper/internal/refresh"
	"github.com/wolfeidau/authkeeper/internal/sessioncache"
	"github.com/wolfeidau/authkeeper/internal/telemetry"
	"github.com/wolfeidau/authkeeper/internal/tokenclock"
)

var (
	// ErrNotAuthenticated is returned when there is no session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrRefreshFailed is returned when the access token expired and could not be refreshed.
	ErrRefreshFailed = errors.New("access token expired and refresh failed")
)

// Redirect routes.
const (
	DefaultSignInPath    = "/login"
	DefaultDashboardPath = "/dashboard"
)

// reasons an establishment is recorded with
const (
	reasonRestored  = "restored"
	reasonSignedIn  = "signed_in"
	reasonRefreshed = "refreshed"
	reasonUpdated   = "updated"
)

// Controller coordinates the session lifecycle. Create one with New, call Start
// once and Close on teardown.
type Controller struct {
	provider    provider.Provider
	clock       tokenclock.Clock
	tokens      *tokenclock.TokenClock
	cache       *sessioncache.Cache
	coordinator *refresh.Coordinator
	navigator   Navigator
	metrics     *telemetry.Metrics

	threshold      time.Duration
	minDelay       time.Duration
	cacheTTL       time.Duration
	refreshTimeout time.Duration
	signInPath     string
	dashboardPath  string

	mu           sync.Mutex
	phase        Phase
	session      *models.Session
	user         *models.User
	timer        tokenclock.Timer
	timerGen     uint64
	subscription provider.Subscription
	closed       bool
	signingOut   bool
	// refresh tokens with a backend call outstanding
	inflight map[string]int
	// set once the sign in redirect fired for the current signed out period
	redirectedToSignIn bool
}

// New creates a controller for the backend p.
func New(p provider.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:      p,
		clock:         tokenclock.Real(),
		navigator:     LogNavigator{},
		metrics:       telemetry.GetMetrics(),
		threshold:     tokenclock.DefaultThreshold,
		minDelay:      tokenclock.DefaultMinDelay,
		cacheTTL:      sessioncache.DefaultTTL,
		signInPath:    DefaultSignInPath,
		dashboardPath: DefaultDashboardPath,
		inflight:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.tokens = tokenclock.New(c.clock, c.threshold, c.minDelay)
	c.cache = sessioncache.New(p.GetSession, c.cacheTTL, c.clock)
	c.coordinator = refresh.NewCoordinator(trackedRefresher{c}, refresh.Hooks{
		Current:   c.Session,
		OnSuccess: c.onRefreshed,
		OnFailure: c.onRefreshFailed,
	}, refresh.WithTimeout(c.refreshTimeout))

	return c
}

// Start subscribes to backend auth events and loads the current session. A
// session that can't be loaded leaves the controller unauthenticated, it is not
// retried. Only the first call has any effect.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.phase != PhaseUninitialized {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseLoading
	c.mu.Unlock()

	sub := c.provider.OnAuthStateChange(c.HandleAuthEvent)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.subscription = sub
	c.mu.Unlock()

	session, err := c.cache.Get(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.phase != PhaseLoading {
		// an auth event settled the state while the session was loading
		return
	}

	switch {
	case err != nil:
		log.Warn().Err(err).Msg("failed to load session")
		c.phase = PhaseUnauthenticated
	case session == nil:
		log.Debug().Msg("no session to restore")
		c.phase = PhaseUnauthenticated
	default:
		c.establishLocked(ctx, session, reasonRestored)
	}
}

// Close tears the controller down: the refresh timer is cancelled, the event
// subscription dropped and local state cleared. A refresh still in flight is left
// to finish but its result is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelTimerLocked()
	c.session = nil
	c.user = nil
	sub := c.subscription
	c.subscription = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	log.Debug().Msg("session controller closed")
}

// GetAccessToken returns a usable access token, refreshing first if the session
// is about to expire. It blocks for at most one refresh round trip. When a refresh
// fails for a transient reason the current token is returned for as long as it
// has not actually expired.
func (c *Controller) GetAccessToken(ctx context.Context) (string, error) {
	session := c.Session()
	if session == nil {
		return "", ErrNotAuthenticated
	}

	if !c.tokens.IsExpiringSoon(session) {
		return session.AccessToken, nil
	}

	fresh := c.coordinator.Refresh(ctx)

	current := c.Session()
	if fresh != nil && sameTokens(current, fresh) {
		return fresh.AccessToken, nil
	}
	if current == nil {
		return "", ErrNotAuthenticated
	}
	if !current.IsExpired(c.clock.Now()) {
		return current.AccessToken, nil
	}
	return "", ErrRefreshFailed
}

// RefreshToken forces a refresh, joining one already in flight. It returns nil if
// there is no session or the refresh failed.
func (c *Controller) RefreshToken(ctx context.Context) *models.Session {
	if c.Session() == nil {
		return nil
	}
	return c.coordinator.Refresh(ctx)
}

// IsTokenExpiring reports whether the current session is inside the refresh threshold.
func (c *Controller) IsTokenExpiring() bool {
	return c.tokens.IsExpiringSoon(c.Session())
}

// SignOut ends the session on the backend and locally, then redirects to the sign
// in route. It is safe to call repeatedly and concurrently, the redirect fires once.
func (c *Controller) SignOut(ctx context.Context) {
	c.mu.Lock()
	if c.signingOut {
		c.mu.Unlock()
		return
	}
	c.signingOut = true
	session := c.session
	closed := c.closed
	c.clearLocked()
	c.mu.Unlock()

	// a login after this must not join a refresh of the old session
	c.coordinator.Forget()

	if session != nil {
		c.metrics.SignOutsTotal.Add(ctx, 1)
		if err := c.provider.SignOut(ctx, session); err != nil {
			log.Warn().Err(err).Msg("backend sign out failed, local session cleared")
		}
		log.Info().
			Str("fingerprint", models.Fingerprint(session.RefreshToken)).
			Msg("signed out")
	}

	c.mu.Lock()
	c.signingOut = false
	redirect := !closed && !c.redirectedToSignIn
	c.redirectedToSignIn = true
	c.mu.Unlock()

	if redirect {
		c.navigate(ctx, c.signInPath)
	}
}

// HandleAuthEvent applies a backend auth event. It is registered with the provider
// by Start and may be called directly.
//
// SIGNED_IN is reported both for new logins and for sessions restored on startup.
// It counts as a new login, and redirects to the dashboard, only when the phase
// before the event was unauthenticated.
func (c *Controller) HandleAuthEvent(event models.Event, session *models.Session) {
	ctx := context.Background()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	previous := c.phase
	var redirect string

	switch event {
	case models.EventSignedIn:
		if !session.IsComplete() {
			log.Warn().Str("event", event.String()).Msg("ignoring incomplete session")
			break
		}
		if previous == PhaseUnauthenticated {
			c.establishLocked(ctx, session, reasonSignedIn)
			c.redirectedToSignIn = false
			redirect = c.dashboardPath
			break
		}
		c.establishLocked(ctx, session, reasonRestored)

	case models.EventTokenRefreshed, models.EventUserUpdated:
		if !session.IsComplete() {
			log.Warn().Str("event", event.String()).Msg("ignoring incomplete session")
			break
		}
		if previous == PhaseUnauthenticated {
			log.Debug().Str("event", event.String()).Msg("ignoring event while signed out")
			break
		}
		if event == models.EventTokenRefreshed && c.staleRefreshLocked() {
			log.Debug().Msg("ignoring refresh of a replaced session")
			break
		}
		reason := reasonRefreshed
		if event == models.EventUserUpdated {
			reason = reasonUpdated
		}
		c.establishLocked(ctx, session, reason)

	case models.EventSignedOut:
		c.clearLocked()
		if previous == PhaseAuthenticated && !c.signingOut && !c.redirectedToSignIn {
			c.redirectedToSignIn = true
			redirect = c.signInPath
		}

	default:
		log.Debug().Str("event", event.String()).Msg("ignoring unknown auth event")
	}
	c.mu.Unlock()

	if redirect != "" {
		c.navigate(ctx, redirect)
	}
}

// Session returns the current session, nil when signed out.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// GetSession returns the session through the short-lived session cache.
func (c *Controller) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, nil
	}
	return c.cache.Get(ctx)
}

// User returns the principal of the current session, nil when signed out.
func (c *Controller) User() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Loading is true until the initial session load has settled.
func (c *Controller) Loading() bool {
	phase := c.Phase()
	return phase == PhaseUninitialized || phase == PhaseLoading
}

// onRefreshed is called by the coordinator with each fresh session. The result
// only applies while origin is still the installed session, or the refresh event
// already installed session itself.
func (c *Controller) onRefreshed(ctx context.Context, origin, session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.phase != PhaseAuthenticated {
		log.Debug().Msg("discarding refreshed session, controller no longer authenticated")
		return
	}
	if !c.isCurrentLocked(origin) && !sameTokens(c.session, session) {
		log.Debug().Msg("discarding refreshed session, session was replaced")
		return
	}
	c.establishLocked(ctx, session, reasonRefreshed)
}

// onRefreshFailed is called by the coordinator once per failed attempt. Only a
// terminal failure for the installed session signs out.
func (c *Controller) onRefreshFailed(ctx context.Context, origin *models.Session, err error) {
	if errors.Is(err, refresh.ErrNoSession) || !provider.IsTerminal(err) {
		return
	}

	c.mu.Lock()
	closed := c.closed
	current := c.isCurrentLocked(origin)
	c.mu.Unlock()
	if closed {
		return
	}
	if !current {
		log.Debug().Err(err).Msg("ignoring refresh failure, session was replaced")
		return
	}

	log.Warn().Err(err).Msg("session can't be refreshed, signing out")
	c.SignOut(ctx)
}

// establishLocked installs session as the current one and replaces the refresh
// timer. Re-establishing the session already installed only updates the user.
func (c *Controller) establishLocked(ctx context.Context, session *models.Session, reason string) {
	if sameTokens(c.session, session) && c.phase == PhaseAuthenticated {
		c.session = session
		c.user = session.Principal()
		c.cache.Store(session)
		return
	}

	c.session = session
	c.user = session.Principal()
	c.phase = PhaseAuthenticated
	c.cache.Store(session)
	c.scheduleLocked(ctx, session)

	c.metrics.SessionsEstablishedTotal.Add(ctx, 1, telemetry.Reason(reason))

	l := log.Info().
		Str("reason", reason).
		Str("fingerprint", models.Fingerprint(session.RefreshToken))
	if c.user != nil {
		l = l.Str("user", c.user.ID)
	}
	l.Time("expiry", session.Expiry()).Msg("session established")
}

// clearLocked drops the session and cancels the refresh timer.
func (c *Controller) clearLocked() {
	c.cancelTimerLocked()
	c.session = nil
	c.user = nil
	if !c.closed {
		c.phase = PhaseUnauthenticated
	}
	c.cache.Store(nil)
}

// scheduleLocked cancels the pending timer and schedules exactly one new refresh
// for session.
func (c *Controller) scheduleLocked(ctx context.Context, session *models.Session) {
	c.cancelTimerLocked()

	if !session.HasExpiry() {
		log.Debug().Msg("session has no expiry, refresh not scheduled")
		return
	}

	delay := c.tokens.TimeUntilRefresh(session)
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(delay, func() {
		c.onTimer(gen)
	})

	c.metrics.TimersScheduledTotal.Add(ctx, 1)
	log.Debug().Dur("delay", delay).Msg("refresh scheduled")
}

// cancelTimerLocked stops the pending timer. Bumping the generation also disarms
// a timer which fired but has not taken the lock yet.
func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx := context.Background()

	log.Debug().Msg("refresh timer fired")

	session := c.coordinator.Refresh(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// signed out on a terminal failure, or establishing a session rescheduled
	if c.closed || c.session == nil || c.timer != nil {
		return
	}

	if session == nil {
		log.Info().Msg("refresh failed, retrying on next timer")
	} else {
		// the backend handed back the tokens already installed
		log.Debug().Msg("refresh returned the current session, rescheduling")
	}
	c.scheduleLocked(ctx, c.session)
}

func (c *Controller) navigate(ctx context.Context, path string) {
	c.metrics.RedirectsTotal.Add(ctx, 1, telemetry.Reason(path))
	log.Debug().Str("path", path).Msg("redirecting")
	c.navigator.Navigate(path)
}

// isCurrentLocked reports whether origin is the session still installed.
func (c *Controller) isCurrentLocked(origin *models.Session) bool {
	return origin != nil && c.session != nil && c.session.RefreshToken == origin.RefreshToken
}

// staleRefreshLocked reports whether the backend calls outstanding all belong to
// sessions other than the installed one, making a refresh event one of theirs.
func (c *Controller) staleRefreshLocked() bool {
	if len(c.inflight) == 0 || c.session == nil {
		return false
	}
	return c.inflight[c.session.RefreshToken] == 0
}

// trackedRefresher records which refresh tokens have a backend call outstanding.
type trackedRefresher struct {
	c *Controller
}

func (t trackedRefresher) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	t.c.mu.Lock()
	t.c.inflight[refreshToken]++
	t.c.mu.Unlock()

	defer func() {
		t.c.mu.Lock()
		if t.c.inflight[refreshToken]--; t.c.inflight[refreshToken] <= 0 {
			delete(t.c.inflight, refreshToken)
		}
		t.c.mu.Unlock()
	}()

	return t.c.provider.RefreshSession(ctx, refreshToken)
}

func sameTokens(a, b *models.Session) bool {
	if a == nil || b == nil {
		return false
	}
	return a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.ExpiresAt == b.ExpiresAt
}
