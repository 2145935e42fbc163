package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

const (
	// DefaultAccessTokenLifetime is assumed when expires_in is missing.
	DefaultAccessTokenLifetime = 900 * time.Second

	// DefaultRefreshTokenTTL is assumed when the IdP says nothing about
	// refresh token lifetime.
	DefaultRefreshTokenTTL = 86400 * time.Second
)

// TokenVerifier is what the Exchanger runs IdP tokens through before
// handing them out.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*jwtx.Claims, bool)
	VerifyIDToken(ctx context.Context, token string) (*jwtx.IDClaims, bool)
}

// ClientConfig is the relying party registration at the IdP.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// RefreshTokenTTL is used when the token response carries no refresh
	// lifetime. Zero means DefaultRefreshTokenTTL.
	RefreshTokenTTL time.Duration
}

// AuthorizationCodeGrant is the input of ExchangeAuthorizationCode.
// RedirectURI falls back to the configured one.
type AuthorizationCodeGrant struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// TokenResult is what both the code exchange and the refresh produce.
type TokenResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time // zero without a refresh token
	Scope                 string
	TokenType             string
	AccessTokenClaims     *jwtx.Claims
	IDToken               string
	IDTokenClaims         *jwtx.IDClaims // nil when absent or unverifiable
}

// Exchanger talks to the IdP token, revocation and userinfo endpoints.
type Exchanger struct {
	settings

	cfg       ClientConfig
	endpoints *EndpointResolver
	verifier  TokenVerifier
}

// NewExchanger wires an Exchanger.
func NewExchanger(client ClientConfig, endpoints *EndpointResolver, verifier TokenVerifier, opts ...Option) *Exchanger {
	if client.RefreshTokenTTL <= 0 {
		client.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return &Exchanger{
		settings:  newSettings(opts),
		cfg:       client,
		endpoints: endpoints,
		verifier:  verifier,
	}
}

// ExchangeAuthorizationCode redeems an authorization code (with its PKCE
// verifier) for tokens.
func (e *Exchanger) ExchangeAuthorizationCode(ctx context.Context, grant AuthorizationCodeGrant) (*TokenResult, error) {
	redirectURI := grant.RedirectURI
	if redirectURI == "" {
		redirectURI = e.cfg.RedirectURI
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {e.cfg.ClientID},
		"code":          {grant.Code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {grant.CodeVerifier},
	}

	return e.requestToken(ctx, data)
}

// RefreshAccessToken trades a refresh token for a fresh access token.
func (e *Exchanger) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {e.cfg.ClientID},
	}

	return e.requestToken(ctx, data)
}

// tokenResponse is the token endpoint's JSON (RFC 6749 5.1 plus the
// refresh lifetime extensions some IdPs send).
type tokenResponse struct {
	AccessToken           string   `json:"access_token"`
	TokenType             string   `json:"token_type"`
	ExpiresIn             lifetime `json:"expires_in"`
	Scope                 string   `json:"scope"`
	RefreshToken          string   `json:"refresh_token"`
	RefreshTokenExpiresIn lifetime `json:"refresh_token_expires_in"`
	ExtExpiresIn          lifetime `json:"ext_expires_in"`
	IDToken               string   `json:"id_token"`
}

// lifetime is a seconds value that tolerates strings and garbage. Anything
// that isn't a positive finite number counts as absent, and so does anything
// too large for a time.Duration.
type lifetime float64

const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

func (l *lifetime) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*l = lifetime(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*l = lifetime(f)
			return nil
		}
	}
	*l = 0
	return nil
}

func (l lifetime) valid() bool {
	f := float64(l)
	return f > 0 && f <= float64(maxLifetimeSeconds)
}

func (l lifetime) duration() time.Duration {
	return time.Duration(float64(l) * float64(time.Second))
}

func (e *Exchanger) requestToken(ctx context.Context, data url.Values) (*TokenResult, error) {
	endpoint, err := e.endpoints.TokenEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenEndpoint, err)
	}
	if e.cfg.ClientSecret != "" {
		data.Set("client_secret", e.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrTokenEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", ErrTokenEndpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTokenEndpoint, err)
	}

	grantType := data.Get("grant_type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.WarnContext(ctx, "token request failed",
			"grant_type", grantType,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, newStatusError(ErrTokenEndpoint, "token "+grantType, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrInvalidTokenResponse, err)
	}
	if tr.AccessToken == "" || tr.TokenType == "" {
		return nil, fmt.Errorf("%w: missing access_token or token_type", ErrInvalidTokenResponse)
	}

	return e.buildResult(ctx, &tr)
}

func (e *Exchanger) buildResult(ctx context.Context, tr *tokenResponse) (*TokenResult, error) {
	claims, ok := e.verifier.VerifyAccessToken(ctx, tr.AccessToken)
	if !ok {
		return nil, ErrIdPReturnedInvalidToken
	}

	now := e.now()
	accessTTL := DefaultAccessTokenLifetime
	if tr.ExpiresIn.valid() {
		accessTTL = tr.ExpiresIn.duration()
	}

	res := &TokenResult{
		AccessToken:          tr.AccessToken,
		AccessTokenExpiresAt: now.Add(accessTTL),
		Scope:                tr.Scope,
		TokenType:            tr.TokenType,
		AccessTokenClaims:    claims,
	}

	if tr.RefreshToken != "" {
		refreshTTL := e.cfg.RefreshTokenTTL
		switch {
		case tr.RefreshTokenExpiresIn.valid():
			refreshTTL = tr.RefreshTokenExpiresIn.duration()
		case tr.ExtExpiresIn.valid():
			refreshTTL = tr.ExtExpiresIn.duration()
		}
		res.RefreshToken = tr.RefreshToken
		res.RefreshTokenExpiresAt = now.Add(refreshTTL)
	}

	if tr.IDToken != "" {
		res.IDToken = tr.IDToken
		// An unverifiable ID token doesn't sink the exchange, the access
		// token is still good.
		if idClaims, ok := e.verifier.VerifyIDToken(ctx, tr.IDToken); ok {
			res.IDTokenClaims = idClaims
		} else {
			e.logger.WarnContext(ctx, "id_token failed verification, continuing without it")
		}
	}

	return res, nil
}
