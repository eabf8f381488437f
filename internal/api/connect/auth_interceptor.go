package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"

	voicev1 "github.com/osa030/cantovox/internal/api/voicev1"
)

// TokenInterceptor validates the API token header on every handler call.
// An empty token disables the check.
type TokenInterceptor struct {
	token string
}

// NewTokenInterceptor creates an interceptor that expects token.
func NewTokenInterceptor(token string) *TokenInterceptor {
	return &TokenInterceptor{token: token}
}

var _ connect.Interceptor = (*TokenInterceptor)(nil)

func (i *TokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		if err := i.check(req.Header().Get(voicev1.APITokenHeader)); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *TokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *TokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.check(conn.RequestHeader().Get(voicev1.APITokenHeader)); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *TokenInterceptor) check(token string) error {
	if i.token == "" {
		return nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) != 1 {
		return connect.NewError(connect.CodeUnauthenticated, nil)
	}
	return nil
}
