// Package tokenclock holds the time calculations that decide when a session
// should be refreshed, along with the clock abstraction the refresh timer runs on.
package tokenclock

import (
	"time"

	"github.com/wolfeidau/authkeeper/internal/models"
)

const (
	// DefaultThreshold is how close to expiry a session counts as expiring soon.
	DefaultThreshold = 5 * time.Minute

	// DefaultMinDelay is the shortest delay a refresh timer is ever scheduled with.
	DefaultMinDelay = 60 * time.Second
)

// Timer is a pending callback which can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// IsExpiringSoon returns true if the session expires within threshold of now.
// A session without an expiry never expires soon, missing expiry information must
// not force a refresh loop.
func IsExpiringSoon(session *models.Session, now time.Time, threshold time.Duration) bool {
	if !session.HasExpiry() {
		return false
	}
	return session.Expiry().Sub(now) <= threshold
}

// TimeUntilRefresh returns how long to wait before refreshing the session, never
// less than minDelay even if the session already expired. Sessions without an
// expiry get minDelay.
func TimeUntilRefresh(session *models.Session, now time.Time, threshold, minDelay time.Duration) time.Duration {
	if !session.HasExpiry() {
		return minDelay
	}
	return max(session.Expiry().Sub(now)-threshold, minDelay)
}

// TokenClock binds the calculations to a clock and a threshold.
type TokenClock struct {
	clock     Clock
	threshold time.Duration
	minDelay  time.Duration
}

// New creates a TokenClock, zero durations use the defaults.
func New(clock Clock, threshold, minDelay time.Duration) *TokenClock {
	if clock == nil {
		clock = Real()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	return &TokenClock{clock: clock, threshold: threshold, minDelay: minDelay}
}

// Clock returns the underlying clock.
func (tc *TokenClock) Clock() Clock {
	return tc.clock
}

// Now returns the current time of the underlying clock.
func (tc *TokenClock) Now() time.Time {
	return tc.clock.Now()
}

// IsExpiringSoon reports whether session is inside the refresh threshold.
func (tc *TokenClock) IsExpiringSoon(session *models.Session) bool {
	return IsExpiringSoon(session, tc.clock.Now(), tc.threshold)
}

// TimeUntilRefresh returns the delay for the next scheduled refresh of session.
func (tc *TokenClock) TimeUntilRefresh(session *models.Session) time.Duration {
	return TimeUntilRefresh(session, tc.clock.Now(), tc.threshold, tc.minDelay)
}
