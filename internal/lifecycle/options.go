package lifecycle

import (
	"time"

	"github.com/wolfeidau/authkeeper/internal/tokenclock"
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for expiry checks and the refresh timer.
func WithClock(clock tokenclock.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithNavigator sets where redirects are sent.
func WithNavigator(navigator Navigator) Option {
	return func(c *Controller) {
		if navigator != nil {
			c.navigator = navigator
		}
	}
}

// WithRefreshThreshold sets how close to expiry a session is refreshed.
func WithRefreshThreshold(threshold time.Duration) Option {
	return func(c *Controller) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithMinRefreshDelay sets the shortest delay a refresh timer is scheduled with.
func WithMinRefreshDelay(delay time.Duration) Option {
	return func(c *Controller) {
		if delay > 0 {
			c.minDelay = delay
		}
	}
}

// WithCacheTTL sets how long session reads are served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithRefreshTimeout bounds each refresh call to the backend.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.refreshTimeout = timeout
	}
}

// WithRoutes sets the sign in and dashboard redirect targets.
func WithRoutes(signIn, dashboard string) Option {
	return func(c *Controller) {
		if signIn != "" {
			c.signInPath = signIn
		}
		if dashboard != "" {
			c.dashboardPath = dashboard
		}
	}
}
