package jwtx

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// RSASigner implements PublicSigner for the RSASSA-PKCS1 and RSASSA-PSS
// families.
type RSASigner struct {
	kid    string
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	method jwt.SigningMethod
}

// newRSASigner loads an RSA private key from PEM bytes. Handles both
// PKCS1 and PKCS8 because otherwise we will be chasing a bug for longer
// that we would be willing to admit.
func newRSASigner(kid, alg string, pemKey []byte) (*RSASigner, error) {
	method := jwt.GetSigningMethod(alg)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
	default:
		return nil, fmt.Errorf("jwtx: %q is not an RSA algorithm", alg)
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for RSA key")
	}

	var key *rsa.PrivateKey
	var err error

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		priv, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err2)
		}
		rk, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: not RSA private key")
		}
		key = rk
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("jwtx: parse RSA key: %w", err)
	}

	return &RSASigner{
		kid:    kid,
		key:    key,
		pub:    &key.PublicKey,
		method: method,
	}, nil
}

func (s *RSASigner) Alg() string { return s.method.Alg() }
func (s *RSASigner) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *RSASigner) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// PublicJWK returns a JWK for inclusion in a JWKS.
func (s *RSASigner) PublicJWK() JWK {
	return NewRSAJWK(s.kid, "sig", s.Alg(), s.pub)
}

// Validate does a quick sanity check to make sure we actually have keys.
func (s *RSASigner) Validate() error {
	if s.key == nil || s.pub == nil {
		return errors.New("jwtx: nil RSA key")
	}
	return nil
}
