package jwtx

import "github.com/golang-jwt/jwt/v5"

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(jwt.Claims) (string, error)
	Validate() error
}

// PublicSigner is a Signer whose public half can be published in a JWKS.
type PublicSigner interface {
	Signer
	PublicJWK() JWK
}

// NewSignerHS256 creates the local HS256 signer from the shared secret.
func NewSignerHS256(secret []byte) (*HS256Signer, error) {
	return newHS256Signer(secret)
}

// NewSignerRSA creates an RSA signer (RS256/384/512 or PS256/384/512) from
// PEM bytes.
func NewSignerRSA(kid, alg string, pemKey []byte) (PublicSigner, error) {
	return newRSASigner(kid, alg, pemKey)
}

// NewSignerECDSA creates an ECDSA signer (ES256/384/512) from PEM bytes.
// ECDSA keys must be in PKCS8 format.
func NewSignerECDSA(kid, alg string, pemKey []byte) (PublicSigner, error) {
	return newECDSASigner(kid, alg, pemKey)
}
