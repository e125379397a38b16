// Package oauth is a provider backed by an OAuth2 token endpoint. Sessions are
// obtained with the password grant, renewed with the refresh_token grant and
// revoked with RFC 7009 token revocation when the server supports it.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/provider"
	"golang.org/x/oauth2"
)

const (
	DefaultMaxTries      = 3
	DefaultRetryInterval = 500 * time.Millisecond
)

// error codes from RFC 6749 section 5.2, plus the one some servers use for
// unknown refresh tokens
const (
	codeInvalidGrant           = "invalid_grant"
	codeRefreshTokenNotFound   = "refresh_token_not_found"
	codeInvalidClient          = "invalid_client"
	codeUnauthorizedClient     = "unauthorized_client"
	codeTemporarilyUnavailable = "temporarily_unavailable"
)

// Config identifies the client and the authorization server endpoints.
type Config struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	RevocationURL string
	Scopes        []string
}

// Provider implements provider.Provider over an OAuth2 authorization server.
type Provider struct {
	oauth         *oauth2.Config
	revocationURL string
	client        *http.Client
	store         Store
	maxTries      uint
	retryInterval time.Duration
	events        provider.Broadcaster
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for every call to the authorization server.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithStore sets where the session is persisted.
func WithStore(store Store) Option {
	return func(p *Provider) {
		if store != nil {
			p.store = store
		}
	}
}

// WithRetry sets how many times a refresh is attempted and the initial backoff
// between attempts.
func WithRetry(maxTries uint, interval time.Duration) Option {
	return func(p *Provider) {
		if maxTries > 0 {
			p.maxTries = maxTries
		}
		if interval > 0 {
			p.retryInterval = interval
		}
	}
}

// New creates a provider for cfg. Without WithStore the session is only kept in memory.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		revocationURL: cfg.RevocationURL,
		client:        &http.Client{Timeout: 30 * time.Second},
		store:         NewMemoryStore(),
		maxTries:      DefaultMaxTries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// SignInWithPassword obtains a session with the resource owner password grant,
// persists it and emits SIGNED_IN.
func (p *Provider) SignInWithPassword(ctx context.Context, username, password string) (*models.Session, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.httpContext(ctx), username, password)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %s", provider.ErrInvalidCredentials, describe(err))
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
	}

	session, err := sessionFromToken(tok, "")
	if err != nil {
		return nil, err
	}

	if err := p.store.Save(session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	log.Info().
		Str("user", userID(session)).
		Str("fingerprint", models.Fingerprint(session.RefreshToken)).
		Msg("signed in")

	p.events.Emit(models.EventSignedIn, session)

	return session, nil
}

// GetSession implements provider.Provider, returning the persisted session.
func (p *Provider) GetSession(ctx context.Context) (*models.Session, error) {
	session, err := p.store.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// RefreshSession implements provider.Provider. Transient failures are retried with
// exponential backoff, a rejected refresh token fails immediately.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, provider.ErrRefreshTokenNotFound
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval

	attempt := 0
	session, err := backoff.Retry(ctx, func() (*models.Session, error) {
		attempt++
		return p.refreshOnce(ctx, refreshToken)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", next).Msg("token refresh failed, retrying")
		}),
	)
	if err != nil {
		if provider.IsTerminal(err) || errors.Is(err, provider.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
	}

	if err := p.store.Save(session); err != nil {
		log.Warn().Err(err).Msg("failed to persist refreshed session")
	}

	p.events.Emit(models.EventTokenRefreshed, session)

	return session, nil
}

func (p *Provider) refreshOnce(ctx context.Context, refreshToken string) (*models.Session, error) {
	src := p.oauth.TokenSource(p.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefresh(ctx, err)
	}

	session, err := sessionFromToken(tok, refreshToken)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return session, nil
}

// SignOut implements provider.Provider. The persisted session is cleared even when
// revocation fails.
func (p *Provider) SignOut(ctx context.Context, session *models.Session) error {
	var revokeErr error
	if session != nil && p.revocationURL != "" {
		revokeErr = p.revoke(ctx, session.RefreshToken, "refresh_token")
	}

	clearErr := p.store.Clear()

	p.events.Emit(models.EventSignedOut, nil)

	return errors.Join(revokeErr, clearErr)
}

// OnAuthStateChange implements provider.Provider. A listener subscribing while a
// session is persisted immediately receives SIGNED_IN.
func (p *Provider) OnAuthStateChange(listener provider.Listener) provider.Subscription {
	sub := p.events.Subscribe(listener)

	if session, err := p.store.Load(); err == nil {
		listener(models.EventSignedIn, session)
	}

	return sub
}

// revoke posts an RFC 7009 revocation request.
func (p *Provider) revoke(ctx context.Context, token, hint string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {p.oauth.ClientID},
	}
	if p.oauth.ClientSecret != "" {
		form.Set("client_secret", p.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: revocation: %w", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation rejected with status %d", resp.StatusCode)
	}

	log.Debug().Str("fingerprint", models.Fingerprint(token)).Msg("token revoked")

	return nil
}

func (p *Provider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// classifyRefresh maps a token endpoint failure onto the provider error taxonomy.
// Terminal and client errors are permanent so they are not retried.
func classifyRefresh(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(fmt.Errorf("%w: %w", provider.ErrUnavailable, ctx.Err()))
	}

	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		// transport failure
		return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
	}

	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}

	switch {
	case rerr.ErrorCode == codeRefreshTokenNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrRefreshTokenNotFound, describe(err)))
	case rerr.ErrorCode == codeInvalidGrant:
		return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrInvalidRefreshToken, describe(err)))
	case rerr.ErrorCode == codeTemporarilyUnavailable:
		return fmt.Errorf("%w: %s", provider.ErrUnavailable, describe(err))
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError || status == 0:
		return fmt.Errorf("%w: %s", provider.ErrUnavailable, describe(err))
	case rerr.ErrorCode == codeInvalidClient || rerr.ErrorCode == codeUnauthorizedClient:
		// a misconfigured client, the refresh token itself may be fine
		return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrUnavailable, describe(err)))
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrInvalidRefreshToken, describe(err)))
	default:
		return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrUnavailable, describe(err)))
	}
}

func isRejected(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.ErrorCode == codeInvalidGrant {
		return true
	}
	return rerr.Response != nil &&
		(rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized)
}

func describe(err error) string {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return err.Error()
	}
	if rerr.ErrorCode == "" {
		if rerr.Response != nil {
			return fmt.Sprintf("token endpoint returned %d", rerr.Response.StatusCode)
		}
		return "token endpoint error"
	}
	if rerr.ErrorDescription != "" {
		return rerr.ErrorCode + ": " + rerr.ErrorDescription
	}
	return rerr.ErrorCode
}

// sessionFromToken converts a token response. Servers which don't rotate refresh
// tokens omit it from the response, previous is kept in that case.
func sessionFromToken(tok *oauth2.Token, previous string) (*models.Session, error) {
	session := &models.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if session.RefreshToken == "" {
		session.RefreshToken = previous
	}
	if !session.IsComplete() {
		return nil, errors.New("token response is missing the access or refresh token")
	}

	if !tok.Expiry.IsZero() {
		session.ExpiresAt = tok.Expiry.Unix()
	} else {
		session.ExpiresAt = models.ExpiryFromToken(tok.AccessToken)
	}

	session.User = models.UserFromToken(tok.AccessToken)

	return session, nil
}

func userID(session *models.Session) string {
	if u := session.Principal(); u != nil {
		return u.ID
	}
	return ""
}
