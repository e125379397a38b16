// Package refresh deduplicates token refreshes: however many callers ask for a
// refresh while one is outstanding, the backend sees a single call and every
// caller receives the same session.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/provider"
	"github.com/wolfeidau/authkeeper/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single refresh call to the backend.
const DefaultTimeout = 30 * time.Second

const flightKey = "refresh"

// ErrNoSession is passed to the failure hook when there is nothing to refresh.
var ErrNoSession = errors.New("no session to refresh")

// Refresher performs the refresh call against the backend.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
}

// Hooks connect the coordinator to the owner of the session state.
type Hooks struct {
	// Current returns the session to refresh.
	Current func() *models.Session

	// OnSuccess is called with the fresh session before any caller receives it.
	// origin is the session the attempt started from.
	OnSuccess func(ctx context.Context, origin, session *models.Session)

	// OnFailure is called once per failed attempt before any caller receives nil.
	// origin is nil when there was nothing to refresh.
	OnFailure func(ctx context.Context, origin *models.Session, err error)
}

// Coordinator runs at most one refresh at a time.
type Coordinator struct {
	refresher Refresher
	hooks     Hooks
	timeout   time.Duration
	group     singleflight.Group
	metrics   *telemetry.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewCoordinator creates a coordinator refreshing through refresher.
func NewCoordinator(refresher Refresher, hooks Hooks, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher: refresher,
		hooks:     hooks,
		timeout:   DefaultTimeout,
		metrics:   telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh returns the session produced by the outstanding refresh, starting one if
// none is in flight. It returns nil on failure. A caller whose ctx ends stops
// waiting, the shared attempt carries on for the others.
func (c *Coordinator) Refresh(ctx context.Context) *models.Session {
	// the attempt outlives the caller which started it
	flightCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RefreshJoinedTotal.Add(ctx, 1)
		}
		session, _ := res.Val.(*models.Session)
		return session
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Msg("stopped waiting for refresh")
		return nil
	}
}

// Forget drops the handle of the outstanding attempt so the next Refresh starts a
// new one. Callers already waiting still receive the old attempt's result.
func (c *Coordinator) Forget() {
	c.group.Forget(flightKey)
}

func (c *Coordinator) refresh(ctx context.Context) (*models.Session, error) {
	current := c.current()
	if !current.IsComplete() {
		c.fail(ctx, nil, ErrNoSession)
		return nil, ErrNoSession
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fingerprint := models.Fingerprint(current.RefreshToken)
	log.Debug().Str("fingerprint", fingerprint).Msg("refreshing session")

	started := time.Now()
	c.metrics.RefreshAttemptsTotal.Add(ctx, 1)

	session, err := c.refresher.RefreshSession(callCtx, current.RefreshToken)

	c.metrics.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err == nil && !session.IsComplete() {
		err = errors.New("backend returned an incomplete session")
	}

	if err != nil {
		terminal := provider.IsTerminal(err)
		c.metrics.RefreshErrorsTotal.Add(ctx, 1, telemetry.FailureKind(terminal))
		log.Warn().
			Err(err).
			Str("fingerprint", fingerprint).
			Bool("terminal", terminal).
			Msg("session refresh failed")
		c.fail(ctx, current, err)
		return nil, err
	}

	log.Info().
		Str("fingerprint", models.Fingerprint(session.RefreshToken)).
		Time("expiry", session.Expiry()).
		Dur("duration", time.Since(started)).
		Msg("session refreshed")

	if c.hooks.OnSuccess != nil {
		c.hooks.OnSuccess(ctx, current, session)
	}

	return session, nil
}

func (c *Coordinator) current() *models.Session {
	if c.hooks.Current == nil {
		return nil
	}
	return c.hooks.Current()
}

func (c *Coordinator) fail(ctx context.Context, origin *models.Session, err error) {
	if c.hooks.OnFailure != nil {
		c.hooks.OnFailure(ctx, origin, err)
	}
}
