package authn

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// TokenVerifier is the single verification path for bearer tokens. It
// routes by header: HS256 goes to the local secret, everything else to the
// IdP's JWKS. Failures are logged and reported as false, never returned.
type TokenVerifier struct {
	local  *jwtx.HS256Verifier
	access *jwtx.JWKSVerifier
	id     *jwtx.JWKSVerifier
	logger *slog.Logger
}

// NewTokenVerifier builds the verifier. ID tokens are always checked
// against the client id, access tokens against cfg.Audience when set.
func NewTokenVerifier(cfg Config, keys jwtx.KeyResolver, now func() time.Time, logger *slog.Logger) *TokenVerifier {
	cfg = cfg.withDefaults()

	accessOpts := jwtx.VerifyOptions{
		Issuer: cfg.Issuer,
		Leeway: cfg.ClockSkew,
		Now:    now,
	}
	if cfg.Audience != "" {
		accessOpts.Audience = []string{cfg.Audience}
	}

	idOpts := accessOpts
	idOpts.Audience = []string{cfg.ClientID}

	localOpts := jwtx.VerifyOptions{
		Issuer: cfg.LocalIssuer,
		Leeway: cfg.ClockSkew,
		Now:    now,
	}

	return &TokenVerifier{
		local:  jwtx.NewVerifierHS256([]byte(cfg.LocalSecret), localOpts),
		access: jwtx.NewVerifierJWKS(keys, accessOpts),
		id:     jwtx.NewVerifierJWKS(keys, idOpts),
		logger: logger,
	}
}

func (v *TokenVerifier) verifyAccess(ctx context.Context, raw string) (*jwtx.Claims, error) {
	tok, err := jwtx.Inspect(raw)
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case jwtx.LocalToken:
		return v.local.Verify(t.Raw)
	case jwtx.OIDCToken:
		if t.Header().Kid == "" {
			return nil, jwtx.ErrMissingKID
		}
		return v.access.Verify(ctx, t.Raw)
	default:
		return nil, jwtx.ErrMalformed
	}
}

func (v *TokenVerifier) verifyID(ctx context.Context, raw string) (*jwtx.IDClaims, error) {
	tok, err := jwtx.Inspect(raw)
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case jwtx.LocalToken:
		return v.local.VerifyID(t.Raw)
	case jwtx.OIDCToken:
		if t.Header().Kid == "" {
			return nil, jwtx.ErrMissingKID
		}
		return v.id.VerifyID(ctx, t.Raw)
	default:
		return nil, jwtx.ErrMalformed
	}
}

// VerifyAccessToken returns the verified claims, or false for anything
// that should be treated as unauthenticated.
func (v *TokenVerifier) VerifyAccessToken(ctx context.Context, raw string) (*jwtx.Claims, bool) {
	claims, err := v.verifyAccess(ctx, raw)
	if err != nil {
		slogx.FromContextOr(ctx, v.logger).WarnContext(ctx, "access token rejected", "error", err)
		return nil, false
	}
	return claims, true
}

// VerifyIDToken is VerifyAccessToken for ID tokens.
func (v *TokenVerifier) VerifyIDToken(ctx context.Context, raw string) (*jwtx.IDClaims, bool) {
	claims, err := v.verifyID(ctx, raw)
	if err != nil {
		slogx.FromContextOr(ctx, v.logger).WarnContext(ctx, "id token rejected", "error", err)
		return nil, false
	}
	return claims, true
}
