// Package testidp is an in-process OpenID provider for tests. It serves
// discovery, JWKS, token, userinfo and revocation endpoints through an
// http.Client transport, so any issuer URL works without DNS or sockets.
package testidp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	DefaultIssuer   = "https://idp.example.com"
	DefaultClientID = "abc"
	DefaultSubject  = "user-42"
)

// TokenFunc lets a test take over the token endpoint. It returns the
// status code and a value to encode as JSON.
type TokenFunc func(form url.Values) (int, any)

// Server is the fake IdP.
type Server struct {
	Issuer   string
	ClientID string

	tb  testing.TB
	mux *http.ServeMux

	mu        sync.Mutex
	signers   map[string]jwtx.PublicSigner
	order     []string
	active    string
	nextKID   int
	hits      map[string]int
	forms     []url.Values
	revoked   []string
	userInfo  map[string]any
	failures  map[string]int
	jwksBody  []byte
	tokenFunc TokenFunc
	omit      map[string]bool
	now       func() time.Time
}

// New starts a fake IdP for issuer (DefaultIssuer when empty) with one RS256
// key published as "k1".
func New(tb testing.TB, issuer string) *Server {
	tb.Helper()
	if issuer == "" {
		issuer = DefaultIssuer
	}

	s := &Server{
		Issuer:   strings.TrimRight(issuer, "/"),
		ClientID: DefaultClientID,
		tb:       tb,
		mux:      http.NewServeMux(),
		signers:  make(map[string]jwtx.PublicSigner),
		hits:     make(map[string]int),
		failures: make(map[string]int),
		omit:     make(map[string]bool),
		now:      time.Now,
		userInfo: map[string]any{"sub": DefaultSubject, "email": "user42@example.com"},
	}
	s.AddKey("RS256", true)
	s.routes()
	return s
}

// Client returns an http.Client that serves every request in-process.
func (s *Server) Client() *http.Client {
	return &http.Client{Transport: handlerTransport{s.mux}}
}

// Handler exposes the mux, for tests that want a real httptest.Server.
func (s *Server) Handler() http.Handler { return s.mux }

type handlerTransport struct{ h http.Handler }

func (t handlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := r.Context().Err(); err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, r)
	resp := rec.Result()
	resp.Request = r
	return resp, nil
}

/* Endpoint paths, relative to the issuer */

const (
	PathDiscovery  = "/.well-known/openid-configuration"
	PathJWKS       = "/jwks"
	PathToken      = "/token"
	PathUserInfo   = "/userinfo"
	PathRevocation = "/revoke"
	PathAuthorize  = "/authorize"
)

// URL returns the absolute URL of an endpoint path.
func (s *Server) URL(path string) string { return s.Issuer + path }

func (s *Server) prefix() string {
	u, err := url.Parse(s.Issuer)
	require.NoError(s.tb, err)
	return strings.TrimRight(u.Path, "/")
}

func (s *Server) routes() {
	p := s.prefix()
	s.mux.HandleFunc("GET "+p+PathDiscovery, s.counted(PathDiscovery, s.handleDiscovery))
	s.mux.HandleFunc("GET "+p+PathJWKS, s.counted(PathJWKS, s.handleJWKS))
	s.mux.HandleFunc("POST "+p+PathToken, s.counted(PathToken, s.handleToken))
	s.mux.HandleFunc("GET "+p+PathUserInfo, s.counted(PathUserInfo, s.handleUserInfo))
	s.mux.HandleFunc("POST "+p+PathRevocation, s.counted(PathRevocation, s.handleRevoke))
}

// counted tracks hits and applies injected failures.
func (s *Server) counted(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[path]++
		status := s.failures[path]
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, `{"error":"server_error","error_description":"injected failure"}`, status)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

/* Test controls */

// Hits returns how many requests path has served.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Fail makes path answer with status until Fail(path, 0).
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Omit removes an optional endpoint from the discovery document.
func (s *Server) Omit(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omit[path] = true
}

// SetJWKSBody replaces the JWKS response body verbatim. Nil restores the
// generated one.
func (s *Server) SetJWKSBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jwksBody = body
}

// SetTokenFunc takes over the token endpoint.
func (s *Server) SetTokenFunc(fn TokenFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenFunc = fn
}

// SetUserInfo replaces the userinfo response.
func (s *Server) SetUserInfo(info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo = info
}

// SetClock replaces the clock used for issued tokens.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// TokenRequests returns the forms posted to the token endpoint.
func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.forms...)
}

// Revoked returns the tokens posted to the revocation endpoint.
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// must fails the test on err.
func (s *Server) must(err error) {
	s.tb.Helper()
	require.NoError(s.tb, err)
}

func (s *Server) String() string {
	return fmt.Sprintf("testidp(%s)", s.Issuer)
}

// secret for refresh tokens handed out by the default token handler.
func newRefreshToken() string {
	return cryptox.MustGenerateToken(cryptox.TokenSize256)
}

// AccessClaims returns claims the default handlers would issue for subject.
func (s *Server) AccessClaims(subject string) jwtx.Claims {
	return jwtx.NewAccessClaims(subject, "", nil, nil, 15*time.Minute, s.Issuer, []string{s.ClientID}, "", "", s.clock())
}

// IDClaims returns ID-token claims for subject carrying nonce.
func (s *Server) IDClaims(subject, nonce string) jwtx.IDClaims {
	return jwtx.IDClaims{
		Claims:            s.AccessClaims(subject),
		Email:             subject + "@example.com",
		EmailVerified:     true,
		PreferredUsername: subject,
		Nonce:             nonce,
	}
}

// Sign signs claims with the active key.
func (s *Server) Sign(claims jwt.Claims) string {
	s.mu.Lock()
	kid := s.active
	s.mu.Unlock()
	return s.SignWith(kid, claims)
}

// SignWith signs claims with the key kid, published or not.
func (s *Server) SignWith(kid string, claims jwt.Claims) string {
	s.tb.Helper()
	s.mu.Lock()
	signer, ok := s.signers[kid]
	s.mu.Unlock()
	require.True(s.tb, ok, "unknown kid %q", kid)

	tok, err := signer.Sign(claims)
	s.must(err)
	return tok
}
