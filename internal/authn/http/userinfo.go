package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

// UserInfoHandler serves GET /v1/userinfo behind Authn. IdP tokens are
// passed on to the IdP's userinfo endpoint; local tokens, and IdP tokens
// when that call fails, are answered from the verified claims.
type UserInfoHandler struct {
	Service *authn.Service
}

func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := httpx.ClaimsFromContext(ctx)
	if !ok {
		httpx.WriteError(w, httpx.ErrInvalidToken)
		return
	}

	if claims.Issuer == h.Service.Config().Issuer {
		if info, ok := h.Service.FetchUserInfo(ctx, httpx.BearerFromContext(ctx)); ok {
			// never let the IdP answer for someone else
			if sub, _ := info["sub"].(string); sub == claims.Subject {
				httpx.WriteJSON(w, http.StatusOK, info)
				return
			}
		}
	}

	httpx.WriteJSON(w, http.StatusOK, claimsInfo(claims))
}

func claimsInfo(c *jwtx.Claims) map[string]any {
	info := map[string]any{"sub": c.Subject}
	if c.Username != "" {
		info["preferred_username"] = c.Username
	}
	if c.PreferredName != "" {
		info["name"] = c.PreferredName
	}
	if scopes := c.AllScopes(); len(scopes) > 0 {
		info["scope"] = strings.Join(scopes, " ")
	}
	if len(c.AMR) > 0 {
		info["amr"] = c.AMR
	}
	return info
}
