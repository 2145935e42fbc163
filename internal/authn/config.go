package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
)

// Defaults applied by New for zero-valued durations and scopes.
const (
	DefaultRefreshTokenTTL = 86400 * time.Second
	DefaultJWKSTTL         = 3600 * time.Second
	DefaultDiscoveryTTL    = 3600 * time.Second
	DefaultLocalIssuer     = "tokengate"
)

// DefaultScopes are requested at the IdP when none are configured.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// ErrInvalidConfig wraps every configuration problem New reports.
var ErrInvalidConfig = errors.New("authn: invalid config")

// Config is everything the Service needs to know about the IdP and about
// itself. It is copied by New and never changed afterwards.
type Config struct {
	// Issuer is the IdP issuer URL, also the expected "iss" of its tokens.
	Issuer      string
	ClientID    string
	RedirectURI string

	// Audience is enforced on IdP access tokens when set.
	Audience     string
	ClientSecret string

	// Endpoints override individual discovery entries.
	Endpoints oidc.Endpoints

	RefreshTokenTTL time.Duration
	JWKSTTL         time.Duration
	DiscoveryTTL    time.Duration

	// LocalSecret signs and verifies locally issued HS256 tokens.
	LocalSecret    string
	LocalIssuer    string
	LocalAccessTTL time.Duration

	Scopes    []string
	ClockSkew time.Duration
}

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, fmt.Errorf("%w: issuer is required", ErrInvalidConfig))
	}
	if c.ClientID == "" {
		errs = append(errs, fmt.Errorf("%w: client id is required", ErrInvalidConfig))
	}
	if c.RedirectURI == "" {
		errs = append(errs, fmt.Errorf("%w: redirect URI is required", ErrInvalidConfig))
	}
	if c.LocalSecret == "" {
		errs = append(errs, fmt.Errorf("%w: local signing secret is required", ErrInvalidConfig))
	}
	for name, d := range map[string]time.Duration{
		"refresh token TTL": c.RefreshTokenTTL,
		"JWKS TTL":          c.JWKSTTL,
		"discovery TTL":     c.DiscoveryTTL,
		"local access TTL":  c.LocalAccessTTL,
		"clock skew":        c.ClockSkew,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name))
		}
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.JWKSTTL == 0 {
		c.JWKSTTL = DefaultJWKSTTL
	}
	if c.DiscoveryTTL == 0 {
		c.DiscoveryTTL = DefaultDiscoveryTTL
	}
	if c.LocalIssuer == "" {
		c.LocalIssuer = DefaultLocalIssuer
	}
	if c.LocalAccessTTL == 0 {
		c.LocalAccessTTL = jwtx.DefaultAccessTokenTTL
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = jwtx.DefaultLeeway
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	} else {
		c.Scopes = append([]string(nil), c.Scopes...)
	}
	return c
}
