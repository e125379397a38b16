package authclient

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Transport is an http.RoundTripper adding a bearer token to each request. A 401
// response forces one refresh and the request is retried once with the new token,
// provided its body can be replayed.
type Transport struct {
	tokens TokenSource
	base   http.RoundTripper
}

// NewTransport wraps base, http.DefaultTransport when nil.
func NewTransport(tokens TokenSource, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{tokens: tokens, base: base}
}

// Client returns an http.Client using the transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.tokens.GetAccessToken(ctx)
	if err != nil {
		// a RoundTripper must close the body even when the request is never sent
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	first := req.Clone(ctx)
	first.Header.Set(authorizationHeader, bearer(token))

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !replayable(req) {
		return resp, nil
	}

	fresh := t.tokens.RefreshToken(ctx)
	if fresh == nil || fresh.AccessToken == token {
		return resp, nil
	}

	retry := req.Clone(ctx)
	retry.Header.Set(authorizationHeader, bearer(fresh.AccessToken))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	log.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("retrying request with refreshed token")

	return t.base.RoundTrip(retry)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
