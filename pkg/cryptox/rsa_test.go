package cryptox_test

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestGenerateRSAKey(t *testing.T) {
	t.Run("PKCS1", func(t *testing.T) {
		pemBytes, err := cryptox.GenerateRSAKey(2048)
		require.NoError(t, err)

		block, _ := pem.Decode(pemBytes)
		require.NotNil(t, block)
		require.Equal(t, "RSA PRIVATE KEY", block.Type)

		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		require.NoError(t, err)
		require.Equal(t, 2048, key.N.BitLen())
	})

	t.Run("PKCS8", func(t *testing.T) {
		pemBytes, err := cryptox.GenerateRSAKeyPKCS8(2048)
		require.NoError(t, err)

		block, _ := pem.Decode(pemBytes)
		require.NotNil(t, block)
		require.Equal(t, "PRIVATE KEY", block.Type)

		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		require.NoError(t, err)
		_, ok := parsed.(*rsa.PrivateKey)
		require.True(t, ok)
	})

	t.Run("too small", func(t *testing.T) {
		_, err := cryptox.GenerateRSAKey(1024)
		require.Error(t, err)
		_, err = cryptox.GenerateRSAKeyPKCS8(1024)
		require.Error(t, err)
	})
}
