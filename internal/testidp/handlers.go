package testidp

import (
	"net/http"

	"github.com/aussiebroadwan/tokengate/pkg/oidc"
)

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := oidc.DiscoveryDocument{
		Issuer:                        s.Issuer,
		JWKSURI:                       s.URL(PathJWKS),
		TokenEndpoint:                 s.URL(PathToken),
		UserInfoEndpoint:              s.URL(PathUserInfo),
		RevocationEndpoint:            s.URL(PathRevocation),
		AuthorizationEndpoint:         s.URL(PathAuthorize),
		CodeChallengeMethodsSupported: []string{"S256"},
	}

	s.mu.Lock()
	if s.omit[PathUserInfo] {
		doc.UserInfoEndpoint = ""
	}
	if s.omit[PathRevocation] {
		doc.RevocationEndpoint = ""
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := s.jwksBody
	s.mu.Unlock()

	if body != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}
	writeJSON(w, http.StatusOK, s.JWKS())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.forms = append(s.forms, r.PostForm)
	fn := s.tokenFunc
	s.mu.Unlock()

	if fn != nil {
		status, body := fn(r.PostForm)
		writeJSON(w, status, body)
		return
	}

	if r.PostForm.Get("client_id") != s.ClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") == "" || r.PostForm.Get("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  s.Sign(s.AccessClaims(DefaultSubject)),
		"token_type":    "Bearer",
		"expires_in":    900,
		"scope":         "openid profile email offline_access",
		"refresh_token": newRefreshToken(),
		"id_token":      s.Sign(s.IDClaims(DefaultSubject, "")),
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	s.mu.Lock()
	info := s.userInfo
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.revoked = append(s.revoked, r.PostForm.Get("token"))
	s.mu.Unlock()

	// RFC 7009: 200 with an empty body either way
	w.WriteHeader(http.StatusOK)
}
