package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/provider"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeToken(w http.ResponseWriter, access, refresh string, expiresIn int) {
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
	})
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": "test " + code})
}

type authServer struct {
	*httptest.Server
	tokenCalls  atomic.Int64
	revokeCalls atomic.Int64

	mu      sync.Mutex
	token   http.HandlerFunc
	revoke  http.HandlerFunc
	revoked []string
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()

	s := &authServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))

		s.mu.Lock()
		h := s.token
		s.mu.Unlock()
		h(w, r)
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		s.revokeCalls.Add(1)
		assert.NoError(t, r.ParseForm())

		s.mu.Lock()
		s.revoked = append(s.revoked, r.PostForm.Get("token")+"/"+r.PostForm.Get("token_type_hint"))
		h := s.revoke
		s.mu.Unlock()

		if h != nil {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *authServer) onToken(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = h
}

func (s *authServer) onRevoke(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoke = h
}

func (s *authServer) config() Config {
	return Config{
		ClientID:      "client-1",
		TokenURL:      s.URL + "/token",
		RevocationURL: s.URL + "/revoke",
	}
}

func newTestProvider(t *testing.T, s *authServer, opts ...Option) (*Provider, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	p, err := New(s.config(), append([]Option{
		WithStore(store),
		WithHTTPClient(s.Client()),
		WithRetry(3, time.Millisecond),
	}, opts...)...)
	require.NoError(t, err)

	return p, store
}

type recorded struct {
	event   models.Event
	session *models.Session
}

func record(p *Provider) func() []recorded {
	var mu sync.Mutex
	var events []recorded
	p.OnAuthStateChange(func(event models.Event, session *models.Session) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, recorded{event, session})
	})
	return func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), events...)
	}
}

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: subject + "@example.com",
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ClientID: "c"})
	assert.Error(t, err)

	_, err = New(Config{TokenURL: "http://localhost/token"})
	assert.Error(t, err)
}

func TestProvider_SignInWithPassword(t *testing.T) {
	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "secret", r.PostForm.Get("password"))
		writeToken(w, "access-1", "refresh-1", 3600)
	})

	p, store := newTestProvider(t, s)
	events := record(p)

	session, err := p.SignInWithPassword(context.Background(), "alice", "secret")
	require.NoError(t, err)

	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "refresh-1", session.RefreshToken)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), session.ExpiresAt, 5)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, session, stored)

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventSignedIn, got[0].event)
}

func TestProvider_SignInRejected(t *testing.T) {
	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest, "invalid_grant")
	})

	p, store := newTestProvider(t, s)

	_, err := p.SignInWithPassword(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, provider.ErrInvalidCredentials)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestProvider_RefreshSession(t *testing.T) {
	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		writeToken(w, "access-2", "refresh-2", 3600)
	})

	p, store := newTestProvider(t, s)
	events := record(p)

	session, err := p.RefreshSession(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "access-2", session.AccessToken)
	assert.Equal(t, "refresh-2", session.RefreshToken)
	assert.Equal(t, int64(1), s.tokenCalls.Load())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTokenRefreshed, got[0].event)
	assert.Same(t, session, got[0].session)
}

func TestProvider_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "access-2", "", 600)
	})

	p, _ := newTestProvider(t, s)

	session, err := p.RefreshSession(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", session.RefreshToken)
}

func TestProvider_RefreshExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(20 * time.Minute).Truncate(time.Second)
	access := signedToken(t, "user-1", exp)

	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, access, "refresh-2", 0)
	})

	p, _ := newTestProvider(t, s)

	session, err := p.RefreshSession(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, exp.Unix(), session.ExpiresAt)
	require.NotNil(t, session.User)
	assert.Equal(t, "user-1", session.User.ID)
	assert.Equal(t, "user-1@example.com", session.User.Email)
}

func TestProvider_RefreshFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		want     error
		terminal bool
		calls    int64
	}{
		{name: "invalid grant", status: http.StatusBadRequest, code: "invalid_grant", want: provider.ErrInvalidRefreshToken, terminal: true, calls: 1},
		{name: "refresh token not found", status: http.StatusBadRequest, code: "refresh_token_not_found", want: provider.ErrRefreshTokenNotFound, terminal: true, calls: 1},
		{name: "unauthorized", status: http.StatusUnauthorized, want: provider.ErrInvalidRefreshToken, terminal: true, calls: 1},
		{name: "invalid client", status: http.StatusUnauthorized, code: "invalid_client", want: provider.ErrUnavailable, calls: 1},
		{name: "forbidden", status: http.StatusForbidden, want: provider.ErrUnavailable, calls: 1},
		{name: "service unavailable", status: http.StatusServiceUnavailable, want: provider.ErrUnavailable, calls: 3},
		{name: "rate limited", status: http.StatusTooManyRequests, want: provider.ErrUnavailable, calls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newAuthServer(t)
			s.onToken(func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					w.WriteHeader(tt.status)
					return
				}
				writeError(w, tt.status, tt.code)
			})

			p, store := newTestProvider(t, s)
			events := record(p)

			_, err := p.RefreshSession(context.Background(), "refresh-1")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.terminal, provider.IsTerminal(err))
			assert.Equal(t, tt.calls, s.tokenCalls.Load())

			assert.Empty(t, events())
			_, err = store.Load()
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}
}

func TestProvider_RefreshRetriesTransientFailures(t *testing.T) {
	s := newAuthServer(t)

	var attempts atomic.Int64
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}
		writeToken(w, "access-2", "refresh-2", 3600)
	})

	p, _ := newTestProvider(t, s)

	session, err := p.RefreshSession(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", session.AccessToken)
	assert.Equal(t, int64(3), s.tokenCalls.Load())
}

func TestProvider_RefreshCancelled(t *testing.T) {
	s := newAuthServer(t)
	s.onToken(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	})

	p, _ := newTestProvider(t, s, WithRetry(10, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.RefreshSession(ctx, "refresh-1")
	require.ErrorIs(t, err, provider.ErrUnavailable)
	assert.False(t, provider.IsTerminal(err))
	assert.Equal(t, int64(1), s.tokenCalls.Load())
}

func TestProvider_RefreshEmptyToken(t *testing.T) {
	s := newAuthServer(t)
	p, _ := newTestProvider(t, s)

	_, err := p.RefreshSession(context.Background(), "")
	require.ErrorIs(t, err, provider.ErrRefreshTokenNotFound)
	assert.Zero(t, s.tokenCalls.Load())
}

func TestProvider_SignOut(t *testing.T) {
	s := newAuthServer(t)
	p, store := newTestProvider(t, s)

	session := &models.Session{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, store.Save(session))
	events := record(p)

	require.NoError(t, p.SignOut(context.Background(), session))

	assert.Equal(t, []string{"refresh-1/refresh_token"}, s.revoked)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	got := events()
	require.Len(t, got, 2)
	assert.Equal(t, models.EventSignedIn, got[0].event, "subscribing restores the stored session")
	assert.Equal(t, models.EventSignedOut, got[1].event)
	assert.Nil(t, got[1].session)
}

func TestProvider_SignOutRevocationFailureStillClears(t *testing.T) {
	s := newAuthServer(t)
	s.onRevoke(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	p, store := newTestProvider(t, s)

	session := &models.Session{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, store.Save(session))

	err := p.SignOut(context.Background(), session)
	require.Error(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestProvider_SignOutWithoutRevocationURL(t *testing.T) {
	s := newAuthServer(t)

	cfg := s.config()
	cfg.RevocationURL = ""
	p, err := New(cfg, WithHTTPClient(s.Client()))
	require.NoError(t, err)

	require.NoError(t, p.SignOut(context.Background(), &models.Session{AccessToken: "a", RefreshToken: "r"}))
	assert.Zero(t, s.revokeCalls.Load())
}

func TestProvider_GetSession(t *testing.T) {
	s := newAuthServer(t)
	p, store := newTestProvider(t, s)

	session, err := p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	want := &models.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: 42}
	require.NoError(t, store.Save(want))

	session, err = p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, session)
}
