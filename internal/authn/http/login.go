package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// LoginHandler serves POST /v1/auth/login: a username and password in, a
// locally signed access token out.
type LoginHandler struct {
	Service *authn.Service
}

// LoginResponse is the token body returned on success.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := httpx.ParseForm(r); err != nil {
		httpx.WriteError(w, err)
		return
	}

	res, err := h.Service.Login(ctx, r.PostForm.Get("username"), r.PostForm.Get("password"))
	switch {
	case errors.Is(err, authn.ErrInvalidCredentials):
		httpx.WriteError(w, httpx.ErrInvalidCredentials)
		return
	case errors.Is(err, authn.ErrLoginDisabled):
		httpx.WriteError(w, httpx.ErrLoginDisabled)
		return
	case err != nil:
		log.Error("login failed", "error", err)
		httpx.WriteError(w, httpx.ErrServerError)
		return
	}

	log.Info("local login", "user_id", res.Claims.Subject)
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresIn:   int64(res.ExpiresAt.Sub(res.Claims.IssuedAt.Time) / time.Second),
		Scope:       strings.Join(res.Claims.AllScopes(), " "),
	})
}
