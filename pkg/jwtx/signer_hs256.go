package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// minHS256SecretLen follows RFC 7518 3.2: the key should be at least as
// long as the hash output.
const minHS256SecretLen = 32

// HS256Signer signs locally issued tokens with the server-held secret.
// Signing is pure: no network, no caches.
type HS256Signer struct {
	secret []byte
}

func newHS256Signer(secret []byte) (*HS256Signer, error) {
	s := &HS256Signer{secret: append([]byte(nil), secret...)}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HS256Signer) Alg() string { return LocalAlgorithm }

// KID is empty, local tokens are routed by algorithm not by key id.
func (s *HS256Signer) KID() string { return "" }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate rejects empty secrets. Short secrets are allowed but weak, the
// caller decides whether to warn.
func (s *HS256Signer) Validate() error {
	if len(s.secret) == 0 {
		return errors.New("jwtx: empty HS256 secret")
	}
	return nil
}

// Weak reports whether the secret is shorter than the recommended length.
func (s *HS256Signer) Weak() bool { return len(s.secret) < minHS256SecretLen }
