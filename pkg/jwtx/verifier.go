package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalAlgorithm is the only algorithm locally issued tokens are signed with.
const LocalAlgorithm = "HS256"

// AsymmetricAlgorithms are the algorithms we accept from an IdP. HMAC is
// deliberately absent so a JWKS key can never double as a shared secret.
var AsymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// KeyResolver hands out public keys by kid. It may hit the network.
type KeyResolver interface {
	SigningKey(ctx context.Context, kid string) (any, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf/iat.
	// Because time sync is never perfect.
	Leeway time.Duration

	// Now overrides the clock used for exp/nbf/iat. Nil means time.Now.
	Now func() time.Time
}

func (o VerifyOptions) parserOptions(methods []string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(o.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if o.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(o.Issuer))
	}
	// jwt.WithAudience only takes one value, multiple audiences are checked
	// after parsing with ValidateAudience.
	if len(o.Audience) == 1 {
		opts = append(opts, jwt.WithAudience(o.Audience[0]))
	}
	if o.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(o.Now))
	}
	return opts
}

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrAlgMismatch  = errors.New("jwtx: algorithm mismatch")
	ErrMissingKID   = errors.New("jwtx: missing kid")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrUnverifiable = errors.New("jwtx: token could not be verified")

	ErrIssuer         = errors.New("jwtx: issuer mismatch")
	ErrAudience       = errors.New("jwtx: audience mismatch")
	ErrExpired        = errors.New("jwtx: token expired")
	ErrNotYetValid    = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim   = errors.New("jwtx: invalid claims")
	ErrMissingSubject = errors.New("jwtx: missing sub claim")
)

// classify maps jwt/v5 parse errors onto our sentinels. The original error
// stays in the chain so keyfunc failures remain matchable with errors.Is.
func classify(err error) error {
	var sentinel error
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		sentinel = ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		sentinel = ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		sentinel = ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		sentinel = ErrIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		sentinel = ErrAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		sentinel = ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		sentinel = ErrUnverifiable
	default:
		sentinel = ErrInvalidClaim
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// parse runs the shared parse pipeline and the checks jwt/v5 doesn't do
// for us (multi-audience and subject).
func parse[T jwt.Claims](raw string, claims T, keyFunc jwt.Keyfunc, methods []string, opts VerifyOptions, base func(T) *Claims) (T, error) {
	parser := jwt.NewParser(opts.parserOptions(methods)...)
	if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
		var zero T
		return zero, classify(err)
	}

	c := base(claims)
	if len(opts.Audience) > 1 {
		if err := c.ValidateAudience(opts.Audience); err != nil {
			var zero T
			return zero, err
		}
	}
	if err := c.ValidateSubject(); err != nil {
		var zero T
		return zero, err
	}
	return claims, nil
}
