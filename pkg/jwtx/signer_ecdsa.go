package jwtx

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// curveForAlg pins each ES algorithm to its curve (RFC 7518 3.4).
var curveForAlg = map[string]string{
	"ES256": "P-256",
	"ES384": "P-384",
	"ES512": "P-521",
}

// ECDSASigner implements PublicSigner using ECDSA.
type ECDSASigner struct {
	kid    string
	key    *ecdsa.PrivateKey
	pub    *ecdsa.PublicKey
	method jwt.SigningMethod
}

// newECDSASigner loads an ECDSA private key from PEM bytes.
// ECDSA keys must be in PKCS8 format.
func newECDSASigner(kid, alg string, pemKey []byte) (*ECDSASigner, error) {
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodECDSA)
	if !ok {
		return nil, fmt.Errorf("jwtx: %q is not an ECDSA algorithm", alg)
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for ECDSA key")
	}

	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY, got %q (ECDSA requires PKCS8)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}

	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not ECDSA private key")
	}

	s := &ECDSASigner{
		kid:    kid,
		key:    key,
		pub:    &key.PublicKey,
		method: method,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ECDSASigner) Alg() string { return s.method.Alg() }
func (s *ECDSASigner) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *ECDSASigner) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// PublicJWK returns a JWK for inclusion in a JWKS.
func (s *ECDSASigner) PublicJWK() JWK {
	return NewECJWK(s.kid, "sig", s.Alg(), s.pub)
}

// Validate makes sure we have a key on the curve the algorithm expects.
func (s *ECDSASigner) Validate() error {
	if s.key == nil || s.pub == nil {
		return errors.New("jwtx: nil ECDSA key")
	}
	want := curveForAlg[s.Alg()]
	if got := s.key.Curve.Params().Name; got != want {
		return fmt.Errorf("jwtx: %s expects %s curve, got %s", s.Alg(), want, got)
	}
	return nil
}
