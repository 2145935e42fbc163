package oidc_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/testidp"
	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/stretchr/testify/require"
)

const (
	redirectURI = "https://app.example.com/cb"
	testSecret  = "0123456789abcdef0123456789abcdef"
)

type exchangeFixture struct {
	idp       *testidp.Server
	clock     *testidp.Clock
	exchanger *oidc.Exchanger
}

func newExchangeFixture(t *testing.T, client oidc.ClientConfig, overrides oidc.Endpoints) *exchangeFixture {
	t.Helper()

	idp := testidp.New(t, "")
	clock := testidp.NewClock(time.Now())
	opts := []oidc.Option{oidc.WithHTTPClient(idp.Client()), oidc.WithClock(clock.Now)}

	discovery := oidc.NewDiscoveryCache(idp.Issuer, time.Hour, opts...)
	endpoints := oidc.NewEndpointResolver(overrides, discovery)
	keys := oidc.NewJWKSCache(endpoints, time.Hour, opts...)

	if client.ClientID == "" {
		client.ClientID = idp.ClientID
	}
	if client.RedirectURI == "" {
		client.RedirectURI = redirectURI
	}

	verifier := newDispatchVerifier(testSecret, keys, idp.Issuer)
	return &exchangeFixture{
		idp:       idp,
		clock:     clock,
		exchanger: oidc.NewExchanger(client, endpoints, verifier, opts...),
	}
}

func localToken(t *testing.T, subject string) string {
	t.Helper()
	signer, err := jwtx.NewSignerHS256([]byte(testSecret))
	require.NoError(t, err)
	tok, err := signer.Sign(jwtx.NewAccessClaims(subject, "", nil, nil, 15*time.Minute, "tokengate", nil, "", "", time.Now()))
	require.NoError(t, err)
	return tok
}

func TestExchangeRoundTripWithLocalToken(t *testing.T) {
	f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
	f.idp.SetTokenFunc(func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token": localToken(t, "user-7"),
			"token_type":   "Bearer",
			"expires_in":   900,
		}
	})

	res, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), oidc.AuthorizationCodeGrant{
		Code:         "code-1",
		CodeVerifier: "verifier-1",
	})
	require.NoError(t, err)
	require.WithinDuration(t, f.clock.Now().Add(900*time.Second), res.AccessTokenExpiresAt, time.Second)
	require.Equal(t, "user-7", res.AccessTokenClaims.Subject)
	require.Equal(t, "Bearer", res.TokenType)
	require.Empty(t, res.RefreshToken)
	require.True(t, res.RefreshTokenExpiresAt.IsZero())
	require.Nil(t, res.IDTokenClaims)
}

func TestExchangeAuthorizationCodeForm(t *testing.T) {
	t.Run("public client, configured redirect", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})

		res, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), oidc.AuthorizationCodeGrant{
			Code:         "code-1",
			CodeVerifier: "verifier-1",
		})
		require.NoError(t, err)
		require.Equal(t, testidp.DefaultSubject, res.AccessTokenClaims.Subject)
		require.NotNil(t, res.IDTokenClaims)
		require.Equal(t, testidp.DefaultSubject, res.IDTokenClaims.PreferredUsername)
		require.NotEmpty(t, res.RefreshToken)
		require.WithinDuration(t, f.clock.Now().Add(oidc.DefaultRefreshTokenTTL), res.RefreshTokenExpiresAt, time.Second)

		forms := f.idp.TokenRequests()
		require.Len(t, forms, 1)
		form := forms[0]
		require.Equal(t, "authorization_code", form.Get("grant_type"))
		require.Equal(t, "abc", form.Get("client_id"))
		require.Equal(t, "code-1", form.Get("code"))
		require.Equal(t, redirectURI, form.Get("redirect_uri"))
		require.Equal(t, "verifier-1", form.Get("code_verifier"))
		require.False(t, form.Has("client_secret"))
	})

	t.Run("confidential client, explicit redirect", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{ClientSecret: "s3cret"}, oidc.Endpoints{})

		_, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), oidc.AuthorizationCodeGrant{
			Code:         "code-1",
			CodeVerifier: "verifier-1",
			RedirectURI:  "https://other.example.com/cb",
		})
		require.NoError(t, err)

		form := f.idp.TokenRequests()[0]
		require.Equal(t, "https://other.example.com/cb", form.Get("redirect_uri"))
		require.Equal(t, "s3cret", form.Get("client_secret"))
	})

	t.Run("token endpoint override skips discovery", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.SetTokenFunc(func(url.Values) (int, any) {
			return http.StatusOK, map[string]any{"access_token": localToken(t, "user-7"), "token_type": "Bearer"}
		})
		override := newExchangeFixtureWithIdP(f, oidc.Endpoints{Token: f.idp.URL(testidp.PathToken)})

		_, err := override.ExchangeAuthorizationCode(context.Background(), oidc.AuthorizationCodeGrant{Code: "c", CodeVerifier: "v"})
		require.NoError(t, err)
		require.Zero(t, f.idp.Hits(testidp.PathDiscovery))
	})
}

// newExchangeFixtureWithIdP builds a second exchanger against the same IdP
// with different endpoint overrides.
func newExchangeFixtureWithIdP(f *exchangeFixture, overrides oidc.Endpoints) *oidc.Exchanger {
	opts := []oidc.Option{oidc.WithHTTPClient(f.idp.Client()), oidc.WithClock(f.clock.Now)}
	endpoints := oidc.NewEndpointResolver(overrides, oidc.NewDiscoveryCache(f.idp.Issuer, time.Hour, opts...))
	verifier := newDispatchVerifier(testSecret, oidc.NewJWKSCache(endpoints, time.Hour, opts...), f.idp.Issuer)
	return oidc.NewExchanger(oidc.ClientConfig{ClientID: f.idp.ClientID, RedirectURI: redirectURI}, endpoints, verifier, opts...)
}

func TestRefreshAccessToken(t *testing.T) {
	f := newExchangeFixture(t, oidc.ClientConfig{ClientSecret: "s3cret"}, oidc.Endpoints{})

	res, err := f.exchanger.RefreshAccessToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, testidp.DefaultSubject, res.AccessTokenClaims.Subject)

	form := f.idp.TokenRequests()[0]
	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, "refresh-1", form.Get("refresh_token"))
	require.Equal(t, "abc", form.Get("client_id"))
	require.Equal(t, "s3cret", form.Get("client_secret"))
	require.False(t, form.Has("code"))
}

func TestExchangeLifetimes(t *testing.T) {
	tests := []struct {
		name        string
		extra       map[string]any
		wantAccess  time.Duration
		wantRefresh time.Duration
	}{
		{"defaults", map[string]any{}, 900 * time.Second, 86400 * time.Second},
		{"expires_in", map[string]any{"expires_in": 60}, time.Minute, 86400 * time.Second},
		{"expires_in as string", map[string]any{"expires_in": "120"}, 2 * time.Minute, 86400 * time.Second},
		{"negative expires_in", map[string]any{"expires_in": -5}, 900 * time.Second, 86400 * time.Second},
		{"garbage expires_in", map[string]any{"expires_in": "soon"}, 900 * time.Second, 86400 * time.Second},
		{"expires_in beyond time.Duration", map[string]any{"expires_in": 1e20}, 900 * time.Second, 86400 * time.Second},
		{"huge refresh_token_expires_in", map[string]any{"refresh_token_expires_in": "1e300"}, 900 * time.Second, 86400 * time.Second},
		{"refresh_token_expires_in wins", map[string]any{"refresh_token_expires_in": 3600, "ext_expires_in": 7200}, 900 * time.Second, time.Hour},
		{"ext_expires_in fallback", map[string]any{"ext_expires_in": 7200}, 900 * time.Second, 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
			f.idp.SetTokenFunc(func(url.Values) (int, any) {
				body := map[string]any{
					"access_token":  localToken(t, "user-7"),
					"token_type":    "Bearer",
					"refresh_token": "r-1",
				}
				for k, v := range tt.extra {
					body[k] = v
				}
				return http.StatusOK, body
			})

			res, err := f.exchanger.RefreshAccessToken(context.Background(), "r-0")
			require.NoError(t, err)
			require.Equal(t, f.clock.Now().Add(tt.wantAccess), res.AccessTokenExpiresAt)
			require.Equal(t, f.clock.Now().Add(tt.wantRefresh), res.RefreshTokenExpiresAt)
		})
	}

	t.Run("configured refresh TTL", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{RefreshTokenTTL: time.Hour}, oidc.Endpoints{})
		res, err := f.exchanger.RefreshAccessToken(context.Background(), "r-0")
		require.NoError(t, err)
		require.Equal(t, f.clock.Now().Add(time.Hour), res.RefreshTokenExpiresAt)
	})
}

func TestExchangeFailures(t *testing.T) {
	grant := oidc.AuthorizationCodeGrant{Code: "c", CodeVerifier: "v"}

	t.Run("non-2xx", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.SetTokenFunc(func(url.Values) (int, any) {
			return http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "code reused by 10.0.0.7"}
		})

		_, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), grant)
		require.ErrorIs(t, err, oidc.ErrTokenEndpoint)

		var statusErr *oidc.StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		require.Equal(t, "invalid_grant", statusErr.Code)
		require.Contains(t, statusErr.Body, "10.0.0.7")
		require.NotContains(t, err.Error(), "10.0.0.7")
	})

	for name, body := range map[string]map[string]any{
		"missing access_token": {"token_type": "Bearer"},
		"missing token_type":   {"access_token": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
			f.idp.SetTokenFunc(func(url.Values) (int, any) { return http.StatusOK, body })

			_, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), grant)
			require.ErrorIs(t, err, oidc.ErrInvalidTokenResponse)
		})
	}

	t.Run("not JSON", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.SetTokenFunc(func(url.Values) (int, any) { return http.StatusOK, "just a string" })

		_, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), grant)
		require.ErrorIs(t, err, oidc.ErrInvalidTokenResponse)
	})

	t.Run("unverifiable access token", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.SetTokenFunc(func(url.Values) (int, any) {
			c := f.idp.AccessClaims("user-1")
			c.Issuer = "https://evil.example.com"
			return http.StatusOK, map[string]any{"access_token": f.idp.Sign(c), "token_type": "Bearer"}
		})

		_, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), grant)
		require.ErrorIs(t, err, oidc.ErrIdPReturnedInvalidToken)
	})

	t.Run("transport failure", func(t *testing.T) {
		endpoints := oidc.NewEndpointResolver(oidc.Endpoints{Token: "https://idp.example.com/token"}, nil)
		client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})}
		ex := oidc.NewExchanger(oidc.ClientConfig{ClientID: "abc"}, endpoints, nil, oidc.WithHTTPClient(client))

		_, err := ex.ExchangeAuthorizationCode(context.Background(), grant)
		require.ErrorIs(t, err, oidc.ErrTokenEndpoint)
	})

	t.Run("no token endpoint", func(t *testing.T) {
		ex := oidc.NewExchanger(oidc.ClientConfig{ClientID: "abc"}, oidc.NewEndpointResolver(oidc.Endpoints{}, nil), nil)
		_, err := ex.RefreshAccessToken(context.Background(), "r")
		require.ErrorIs(t, err, oidc.ErrTokenEndpoint)
		require.ErrorIs(t, err, oidc.ErrNoEndpoint)
	})
}

func TestExchangeDegradesOnBadIDToken(t *testing.T) {
	f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
	f.idp.SetTokenFunc(func(url.Values) (int, any) {
		id := f.idp.IDClaims("user-1", "")
		id.Issuer = "https://evil.example.com"
		return http.StatusOK, map[string]any{
			"access_token": f.idp.Sign(f.idp.AccessClaims("user-1")),
			"token_type":   "Bearer",
			"id_token":     f.idp.Sign(id),
		}
	})

	res, err := f.exchanger.ExchangeAuthorizationCode(context.Background(), oidc.AuthorizationCodeGrant{Code: "c", CodeVerifier: "v"})
	require.NoError(t, err)
	require.Equal(t, "user-1", res.AccessTokenClaims.Subject)
	require.NotEmpty(t, res.IDToken)
	require.Nil(t, res.IDTokenClaims)
}
