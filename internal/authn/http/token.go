package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// TokenHandler serves POST /v1/oidc/token. It redeems authorization codes
// and refresh tokens at the IdP and hands the verified result back.
type TokenHandler struct {
	Service *authn.Service

	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenResponse mirrors an OAuth2 token response.
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	Scope                 string `json:"scope,omitempty"`
	IDToken               string `json:"id_token,omitempty"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := httpx.ParseForm(r); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var (
		res *oidc.TokenResult
		err error
	)
	switch grant := r.PostForm.Get("grant_type"); grant {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if code == "" {
			httpx.WriteError(w, httpx.ErrInvalidRequest.WithDescription("code is required"))
			return
		}
		res, err = h.Service.ExchangeAuthorizationCode(ctx, oidc.AuthorizationCodeGrant{
			Code:         code,
			CodeVerifier: r.PostForm.Get("code_verifier"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
		})
	case "refresh_token":
		refresh := r.PostForm.Get("refresh_token")
		if refresh == "" {
			httpx.WriteError(w, httpx.ErrInvalidRequest.WithDescription("refresh_token is required"))
			return
		}
		res, err = h.Service.RefreshAccessToken(ctx, refresh)
	default:
		httpx.WriteError(w, httpx.ErrUnsupportedGrantType)
		return
	}
	if err != nil {
		httpx.WriteError(w, idpError(ctx, log, "token", err))
		return
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	resp := TokenResponse{
		AccessToken:  res.AccessToken,
		TokenType:    res.TokenType,
		ExpiresIn:    seconds(res.AccessTokenExpiresAt.Sub(now)),
		RefreshToken: res.RefreshToken,
		Scope:        res.Scope,
		IDToken:      res.IDToken,
	}
	if !res.RefreshTokenExpiresAt.IsZero() {
		resp.RefreshTokenExpiresIn = seconds(res.RefreshTokenExpiresAt.Sub(now))
	}

	log.Info("token issued by IdP", "user_id", res.AccessTokenClaims.Subject, "id_token_verified", res.IDTokenClaims != nil)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func seconds(d time.Duration) int64 {
	return max(int64(d.Round(time.Second)/time.Second), 0)
}
