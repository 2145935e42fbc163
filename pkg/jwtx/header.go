package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Header is the part of the JOSE header we route on.
type Header struct {
	Alg string
	Kid string
	Typ string
}

// Token is a bearer token whose trust path has been decided but whose
// signature has not been checked yet. It is either a LocalToken or an
// OIDCToken; switch on the concrete type.
type Token interface {
	Header() Header
	isToken()
}

// LocalToken was signed by us with the shared secret.
type LocalToken struct {
	Raw string
	hdr Header
}

// OIDCToken claims to come from the IdP and must be checked against its JWKS.
type OIDCToken struct {
	Raw string
	hdr Header
}

func (t LocalToken) Header() Header { return t.hdr }
func (t OIDCToken) Header() Header  { return t.hdr }

func (LocalToken) isToken() {}
func (OIDCToken) isToken()  {}

// Inspect decodes the header of raw WITHOUT verifying anything and decides
// which trust path the token belongs to. Only the exact local algorithm
// routes to the local path, everything else is treated as an IdP token and
// has to survive the asymmetric allow-list there.
func Inspect(raw string) (Token, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	alg, _ := parsed.Header["alg"].(string)
	if alg == "" {
		return nil, fmt.Errorf("%w: missing alg", ErrMalformed)
	}
	kid, _ := parsed.Header["kid"].(string)
	typ, _ := parsed.Header["typ"].(string)

	hdr := Header{Alg: alg, Kid: kid, Typ: typ}
	if alg == LocalAlgorithm {
		return LocalToken{Raw: raw, hdr: hdr}, nil
	}
	return OIDCToken{Raw: raw, hdr: hdr}, nil
}
