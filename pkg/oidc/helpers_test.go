package oidc_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// staticClient answers every request with status and body.
func staticClient(status int, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
}

// gatedClient answers with body once release is closed. Every request is
// counted in hits and announced on started when there is room.
func gatedClient(body string, started chan<- struct{}, release <-chan struct{}, hits *atomic.Int32) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
}

// dispatchVerifier routes local tokens to HS256 and everything else to the
// JWKS, the same split the service does.
type dispatchVerifier struct {
	local  *jwtx.HS256Verifier
	remote *jwtx.JWKSVerifier
}

func newDispatchVerifier(secret string, keys jwtx.KeyResolver, issuer string) *dispatchVerifier {
	return &dispatchVerifier{
		local:  jwtx.NewVerifierHS256([]byte(secret), jwtx.VerifyOptions{Leeway: jwtx.DefaultLeeway}),
		remote: jwtx.NewVerifierJWKS(keys, jwtx.VerifyOptions{Issuer: issuer, Leeway: jwtx.DefaultLeeway}),
	}
}

func (v *dispatchVerifier) VerifyAccessToken(ctx context.Context, raw string) (*jwtx.Claims, bool) {
	tok, err := jwtx.Inspect(raw)
	if err != nil {
		return nil, false
	}
	var c *jwtx.Claims
	switch tok.(type) {
	case jwtx.LocalToken:
		c, err = v.local.Verify(raw)
	case jwtx.OIDCToken:
		c, err = v.remote.Verify(ctx, raw)
	}
	return c, err == nil
}

func (v *dispatchVerifier) VerifyIDToken(ctx context.Context, raw string) (*jwtx.IDClaims, bool) {
	c, err := v.remote.VerifyID(ctx, raw)
	return c, err == nil
}

var _ oidc.TokenVerifier = (*dispatchVerifier)(nil)
