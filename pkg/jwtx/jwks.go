package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWK represents a public key in JSON Web Key format (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`           // key type: "RSA", "EC"
	Use string `json:"use,omitempty"` // what we use it for: "sig", "enc"
	Alg string `json:"alg,omitempty"` // algorithm: "RS256", "ES256", ...
	Kid string `json:"kid,omitempty"` // key ID

	// RSA stuff
	N string `json:"n,omitempty"` // modulus (base64url)
	E string `json:"e,omitempty"` // exponent (base64url)

	// ECDSA / EC fields
	Crv string `json:"crv,omitempty"` // curve: "P-256", "P-384", "P-521"
	X   string `json:"x,omitempty"`   // base64url encoded x-coordinate
	Y   string `json:"y,omitempty"`   // base64url encoded y-coordinate
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK builds a JWK for an RSA public key.
func NewRSAJWK(kid, use, alg string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: use,
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewECJWK builds a JWK for an ECDSA public key on P-256, P-384 or P-521.
func NewECJWK(kid, use, alg string, pub *ecdsa.PublicKey) JWK {
	// Coordinates are left-padded to the field size (RFC 7518 6.2.1.2).
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return JWK{
		Kty: "EC",
		Use: use,
		Alg: alg,
		Kid: kid,
		Crv: pub.Curve.Params().Name,
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// ErrNotPublicKey is returned for JWKs that don't describe an asymmetric key.
var ErrNotPublicKey = errors.New("jwtx: JWK is not an asymmetric public key")

// ParsePublicKey turns one raw JWK object into a crypto public key that
// jwt/v5 can verify with. Symmetric ("oct") keys are refused. If the JWK
// carries private parts only the public half is returned.
func ParsePublicKey(raw []byte) (any, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse JWK: %w", err)
	}

	var exported any
	if err := jwk.Export(key, &exported); err != nil {
		return nil, fmt.Errorf("jwtx: export JWK: %w", err)
	}

	switch k := exported.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("%w (%T)", ErrNotPublicKey, exported)
	}
}
