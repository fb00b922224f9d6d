package scheduler

import (
	"context"

	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// tokenCredentials attaches "authorization: <type> <token>" to every call.
type tokenCredentials struct {
	source     oauth2.TokenSource
	requireTLS bool
}

var _ credentials.PerRPCCredentials = tokenCredentials{}

func newTokenCredentials(source oauth2.TokenSource, requireTLS bool) tokenCredentials {
	return tokenCredentials{source: oauth2.ReuseTokenSource(nil, source), requireTLS: requireTLS}
}

// GetRequestMetadata fetches a token. Token errors fail the call with
// Unauthenticated, which the default policy does not retry.
func (c tokenCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "cannot get token: %v", err)
	}
	return map[string]string{"authorization": tok.Type() + " " + tok.AccessToken}, nil
}

func (c tokenCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
