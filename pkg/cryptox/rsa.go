package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// MinRSABits is the smallest modulus GenerateRSAKey accepts.
const MinRSABits = 2048

// GenerateRSAKey generates an RSA private key and returns it PEM encoded
// (PKCS1, "RSA PRIVATE KEY").
func GenerateRSAKey(bits int) ([]byte, error) {
	key, err := newRSAKey(bits)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}

// GenerateRSAKeyPKCS8 is GenerateRSAKey with a PKCS8 ("PRIVATE KEY") block.
func GenerateRSAKeyPKCS8(bits int) ([]byte, error) {
	key, err := newRSAKey(bits)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to marshal PKCS8 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func newRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinRSABits {
		return nil, fmt.Errorf("cryptox: RSA key size must be at least %d bits, got %d", MinRSABits, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate RSA key: %w", err)
	}
	return key, nil
}
