package http

import (
	"net/http"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
)

// RevokeHandler serves POST /v1/oidc/revoke. Following RFC 7009 the answer
// is 200 whatever happened at the IdP, so tokens cannot be probed.
type RevokeHandler struct {
	Service *authn.Service
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := httpx.ParseForm(r); err != nil {
		httpx.WriteError(w, err)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		httpx.WriteError(w, httpx.ErrInvalidRequest.WithDescription("token is required"))
		return
	}

	// only refresh tokens can be revoked, access tokens expire
	if hint := r.PostForm.Get("token_type_hint"); hint == "" || hint == "refresh_token" {
		h.Service.RevokeRefreshToken(r.Context(), token)
	}

	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}
