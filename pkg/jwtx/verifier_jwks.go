package jwtx

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier verifies asymmetric tokens whose keys live behind a
// KeyResolver, usually the IdP's JWKS.
type JWKSVerifier struct {
	keys KeyResolver
	opts VerifyOptions
}

// NewVerifierJWKS constructs a JWKSVerifier.
func NewVerifierJWKS(keys KeyResolver, opts VerifyOptions) *JWKSVerifier {
	return &JWKSVerifier{keys: keys, opts: opts}
}

func (v *JWKSVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKID
		}
		return v.keys.SigningKey(ctx, kid)
	}
}

// Verify parses, resolves the key by kid and validates standard claims.
func (v *JWKSVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	return parse(raw, &Claims{}, v.keyFunc(ctx), AsymmetricAlgorithms, v.opts, accessBase)
}

// VerifyID is Verify for ID tokens.
func (v *JWKSVerifier) VerifyID(ctx context.Context, raw string) (*IDClaims, error) {
	return parse(raw, &IDClaims{}, v.keyFunc(ctx), AsymmetricAlgorithms, v.opts, idBase)
}
