package authclient

import (
	"context"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
)

// Interceptor adds the access token to Connect RPC requests. Unary calls rejected
// as unauthenticated are retried once after a refresh.
type Interceptor struct {
	tokens TokenSource
}

// NewInterceptor creates a client interceptor drawing tokens from tokens.
func NewInterceptor(tokens TokenSource) *Interceptor {
	return &Interceptor{tokens: tokens}
}

// WrapUnary implements connect.Interceptor.
func (i *Interceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		token, err := i.tokens.GetAccessToken(ctx)
		if err != nil {
			return nil, connect.NewError(connectCode(err), err)
		}
		req.Header().Set(authorizationHeader, bearer(token))

		resp, err := next(ctx, req)
		if connect.CodeOf(err) != connect.CodeUnauthenticated {
			return resp, err
		}

		fresh := i.tokens.RefreshToken(ctx)
		if fresh == nil || fresh.AccessToken == token {
			return resp, err
		}

		log.Debug().Str("procedure", req.Spec().Procedure).Msg("retrying call with refreshed token")

		req.Header().Set(authorizationHeader, bearer(fresh.AccessToken))
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *Interceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)

		token, err := i.tokens.GetAccessToken(ctx)
		if err != nil {
			log.Error().Err(err).Str("procedure", spec.Procedure).Msg("failed to add auth header to streaming request")
			return &failedConn{StreamingClientConn: conn, err: connect.NewError(connectCode(err), err)}
		}
		conn.RequestHeader().Set(authorizationHeader, bearer(token))

		return conn
	}
}

// WrapStreamingHandler is not used for client interceptors.
func (i *Interceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// failedConn fails a stream which could not be authorized before anything is sent.
type failedConn struct {
	connect.StreamingClientConn
	err error
}

func (c *failedConn) Send(any) error {
	return c.err
}

func (c *failedConn) Receive(any) error {
	return c.err
}

func (c *failedConn) CloseRequest() error {
	return c.err
}
