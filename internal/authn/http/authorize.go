package http

import (
	"net/http"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// AuthorizeHandler serves GET /v1/oidc/authorize. It does not redirect:
// the caller gets the IdP URL together with the state, nonce and PKCE
// verifier it has to keep until the callback.
type AuthorizeHandler struct {
	Service *authn.Service
}

// AuthorizeResponse is everything a client needs to start a login.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	Nonce            string `json:"nonce"`
	CodeVerifier     string `json:"code_verifier"`
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	state, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		log.Error("authorize: generate state", "error", err)
		httpx.WriteError(w, httpx.ErrServerError)
		return
	}
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		log.Error("authorize: generate nonce", "error", err)
		httpx.WriteError(w, httpx.ErrServerError)
		return
	}
	pkce := oidc.NewPKCE()

	authURL, err := h.Service.AuthorizationURL(ctx, oidc.AuthorizationRequest{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: pkce.Verifier,
		Scopes:       httpx.ParseSpaceDelimitedFields(r.URL.Query().Get("scope")),
	})
	if err != nil {
		httpx.WriteError(w, idpError(ctx, log, "authorize", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, AuthorizeResponse{
		AuthorizationURL: authURL,
		State:            state,
		Nonce:            nonce,
		CodeVerifier:     pkce.Verifier,
	})
}
