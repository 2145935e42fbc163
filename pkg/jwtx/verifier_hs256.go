package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Verifier checks tokens we signed ourselves with the shared secret.
// It never touches the network.
type HS256Verifier struct {
	secret []byte
	opts   VerifyOptions
}

// NewVerifierHS256 constructs an HS256Verifier.
func NewVerifierHS256(secret []byte, opts VerifyOptions) *HS256Verifier {
	return &HS256Verifier{secret: secret, opts: opts}
}

func (v *HS256Verifier) keyFunc(t *jwt.Token) (any, error) {
	// WithValidMethods already rejected everything else, keep the check
	// anyway so a parser misconfiguration can't hand out the secret.
	if t.Method != jwt.SigningMethodHS256 {
		return nil, ErrAlgMismatch
	}
	if len(v.secret) == 0 {
		return nil, errors.New("jwtx: empty HS256 secret")
	}
	return v.secret, nil
}

// Verify parses, checks the signature and validates standard claims.
func (v *HS256Verifier) Verify(raw string) (*Claims, error) {
	return parse(raw, &Claims{}, v.keyFunc, []string{LocalAlgorithm}, v.opts, accessBase)
}

// VerifyID is Verify for ID-token shaped payloads.
func (v *HS256Verifier) VerifyID(raw string) (*IDClaims, error) {
	return parse(raw, &IDClaims{}, v.keyFunc, []string{LocalAlgorithm}, v.opts, idBase)
}

func accessBase(c *Claims) *Claims { return c }
func idBase(c *IDClaims) *Claims   { return &c.Claims }
