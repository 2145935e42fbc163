package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrForeignIssuer is returned when asked to sign claims for an issuer
// other than the local one.
var ErrForeignIssuer = errors.New("authn: issuer is not the local issuer")

// Service is the one object callers build. It owns its discovery and JWKS
// caches, two Services never share them.
type Service struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	now    func() time.Time
	users  Users

	discovery *oidc.DiscoveryCache
	jwks      *oidc.JWKSCache
	endpoints *oidc.EndpointResolver
	signer    *jwtx.HS256Signer
	verifier  *TokenVerifier
	exchanger *oidc.Exchanger
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used for every IdP call.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for caches, token lifetimes and claim checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUsers enables local username/password login.
func WithUsers(u Users) Option {
	return func(s *Service) { s.users = u }
}

// New validates cfg and wires the caches, verifier and exchanger. A bad
// config is a deployment error and fails here, not at first use.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		client: http.DefaultClient,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	signer, err := jwtx.NewSignerHS256([]byte(s.cfg.LocalSecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if signer.Weak() {
		s.logger.Warn("local signing secret is shorter than 32 bytes")
	}
	s.signer = signer

	oidcOpts := []oidc.Option{
		oidc.WithHTTPClient(s.client),
		oidc.WithLogger(s.logger),
		oidc.WithClock(s.now),
	}
	s.discovery = oidc.NewDiscoveryCache(s.cfg.Issuer, s.cfg.DiscoveryTTL, oidcOpts...)
	s.endpoints = oidc.NewEndpointResolver(s.cfg.Endpoints, s.discovery)
	s.jwks = oidc.NewJWKSCache(s.endpoints, s.cfg.JWKSTTL, oidcOpts...)
	s.verifier = NewTokenVerifier(s.cfg, s.jwks, s.now, s.logger)
	s.exchanger = oidc.NewExchanger(oidc.ClientConfig{
		ClientID:        s.cfg.ClientID,
		ClientSecret:    s.cfg.ClientSecret,
		RedirectURI:     s.cfg.RedirectURI,
		Scopes:          s.cfg.Scopes,
		RefreshTokenTTL: s.cfg.RefreshTokenTTL,
	}, s.endpoints, s.verifier, oidcOpts...)

	return s, nil
}

// Config returns the effective configuration, defaults included.
func (s *Service) Config() Config { return s.cfg }

// VerifyAccessToken checks a bearer token from either trust path.
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (*jwtx.Claims, bool) {
	return s.verifier.VerifyAccessToken(ctx, token)
}

// VerifyIDToken checks an ID token.
func (s *Service) VerifyIDToken(ctx context.Context, token string) (*jwtx.IDClaims, bool) {
	return s.verifier.VerifyIDToken(ctx, token)
}

// SignAccessToken signs claims with the local secret. iat, nbf, exp and jti
// are filled in when the caller left them empty. iss must be empty or the
// local issuer, anything else fails with ErrForeignIssuer.
func (s *Service) SignAccessToken(claims jwtx.Claims) (string, error) {
	now := s.now()
	switch claims.Issuer {
	case "":
		claims.Issuer = s.cfg.LocalIssuer
	case s.cfg.LocalIssuer:
	default:
		return "", fmt.Errorf("%w: %q", ErrForeignIssuer, claims.Issuer)
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.NotBefore == nil {
		claims.NotBefore = claims.IssuedAt
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(claims.IssuedAt.Add(s.cfg.LocalAccessTTL))
	}
	if claims.ID == "" {
		claims.ID = jwtx.NewJTI()
	}
	return s.signer.Sign(claims)
}

// ExchangeAuthorizationCode redeems a code at the IdP.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, grant oidc.AuthorizationCodeGrant) (*oidc.TokenResult, error) {
	return s.exchanger.ExchangeAuthorizationCode(ctx, grant)
}

// RefreshAccessToken refreshes at the IdP.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*oidc.TokenResult, error) {
	return s.exchanger.RefreshAccessToken(ctx, refreshToken)
}

// RevokeRefreshToken is best effort and never fails.
func (s *Service) RevokeRefreshToken(ctx context.Context, refreshToken string) {
	s.exchanger.RevokeRefreshToken(ctx, refreshToken)
}

// FetchUserInfo returns the IdP's userinfo claims when it can.
func (s *Service) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, bool) {
	return s.exchanger.FetchUserInfo(ctx, accessToken)
}

// AuthorizationURL builds the IdP login redirect.
func (s *Service) AuthorizationURL(ctx context.Context, req oidc.AuthorizationRequest) (string, error) {
	return s.exchanger.AuthorizationURL(ctx, req)
}

// Ready reports whether the IdP's discovery document can be loaded. Used
// by the readiness probe, it goes through the cache like everything else.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.discovery.Document(ctx)
	return err
}
