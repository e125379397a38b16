package tokenclock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/tokenclock"
	"github.com/wolfeidau/authkeeper/internal/tokenclock/fakeclock"
)

var now = time.Unix(1_700_000_000, 0)

func sessionExpiringIn(d time.Duration) *models.Session {
	return &models.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(d).Unix()}
}

func TestIsExpiringSoon(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
		want    bool
	}{
		{name: "no expiry", session: &models.Session{AccessToken: "a", RefreshToken: "r"}, want: false},
		{name: "nil session", session: nil, want: false},
		{name: "inside threshold", session: sessionExpiringIn(250 * time.Second), want: true},
		{name: "exactly at threshold", session: sessionExpiringIn(300 * time.Second), want: true},
		{name: "just outside threshold", session: sessionExpiringIn(301 * time.Second), want: false},
		{name: "already expired", session: sessionExpiringIn(-time.Minute), want: true},
		{name: "an hour left", session: sessionExpiringIn(time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenclock.IsExpiringSoon(tt.session, now, tokenclock.DefaultThreshold))
		})
	}
}

func TestTimeUntilRefresh(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
		want    time.Duration
	}{
		{name: "an hour left", session: sessionExpiringIn(3600 * time.Second), want: 3300 * time.Second},
		{name: "close to expiry uses floor", session: sessionExpiringIn(320 * time.Second), want: tokenclock.DefaultMinDelay},
		{name: "expired uses floor", session: sessionExpiringIn(-time.Hour), want: tokenclock.DefaultMinDelay},
		{name: "no expiry uses floor", session: &models.Session{AccessToken: "a", RefreshToken: "r"}, want: tokenclock.DefaultMinDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenclock.TimeUntilRefresh(tt.session, now, tokenclock.DefaultThreshold, tokenclock.DefaultMinDelay)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, tokenclock.DefaultMinDelay)
		})
	}
}

func TestTokenClock_Defaults(t *testing.T) {
	clock := fakeclock.New(now)
	tc := tokenclock.New(clock, 0, 0)

	assert.True(t, tc.IsExpiringSoon(sessionExpiringIn(250*time.Second)))
	assert.Equal(t, 3300*time.Second, tc.TimeUntilRefresh(sessionExpiringIn(time.Hour)))

	clock.Advance(10 * time.Minute)
	assert.True(t, tc.IsExpiringSoon(sessionExpiringIn(10*time.Minute)))
}

func TestTokenClock_CustomThreshold(t *testing.T) {
	tc := tokenclock.New(fakeclock.New(now), time.Minute, 5*time.Second)

	assert.False(t, tc.IsExpiringSoon(sessionExpiringIn(2*time.Minute)))
	assert.Equal(t, 5*time.Second, tc.TimeUntilRefresh(sessionExpiringIn(30*time.Second)))
}
