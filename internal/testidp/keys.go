package testidp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

// AddKey generates a key for alg, publishes it in the JWKS and returns its
// kid. With activate the key also signs the tokens the IdP hands out.
func (s *Server) AddKey(alg string, activate bool) string {
	s.tb.Helper()

	var signer jwtx.PublicSigner
	s.mu.Lock()
	s.nextKID++
	kid := fmt.Sprintf("k%d", s.nextKID)
	s.mu.Unlock()

	switch {
	case strings.HasPrefix(alg, "RS"):
		pemKey, err := cryptox.GenerateRSAKey(2048)
		s.must(err)
		signer, err = jwtx.NewSignerRSA(kid, alg, pemKey)
		s.must(err)
	case strings.HasPrefix(alg, "PS"):
		pemKey, err := cryptox.GenerateRSAKeyPKCS8(2048)
		s.must(err)
		signer, err = jwtx.NewSignerRSA(kid, alg, pemKey)
		s.must(err)
	case strings.HasPrefix(alg, "ES"):
		pemKey, err := cryptox.GenerateECDSAKey(alg)
		s.must(err)
		signer, err = jwtx.NewSignerECDSA(kid, alg, pemKey)
		s.must(err)
	default:
		s.tb.Fatalf("testidp: unsupported algorithm %q", alg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[kid] = signer
	s.order = append(s.order, kid)
	if activate || s.active == "" {
		s.active = kid
	}
	return kid
}

// Rotate adds a new active key and unpublishes every older one, like an IdP
// finishing a key rollover.
func (s *Server) Rotate(alg string) string {
	s.tb.Helper()
	kid := s.AddKey(alg, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = []string{kid}
	return kid
}

// Unpublish drops kid from the JWKS. The key can still sign via SignWith.
func (s *Server) Unpublish(kid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == kid })
}

// ActiveKID is the kid the IdP currently signs with.
func (s *Server) ActiveKID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// JWKS returns the published key set.
func (s *Server) JWKS() jwtx.JWKS {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := jwtx.JWKS{Keys: make([]jwtx.JWK, 0, len(s.order))}
	for _, kid := range s.order {
		set.Keys = append(set.Keys, s.signers[kid].PublicJWK())
	}
	return set
}
