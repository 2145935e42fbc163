package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
)

// RevokeRefreshToken asks the IdP to revoke a refresh token (RFC 7009).
// It is best effort: failures are logged and swallowed so a logout never
// fails because the IdP is having a bad day.
func (e *Exchanger) RevokeRefreshToken(ctx context.Context, refreshToken string) {
	log := e.logger.With("token_fp", cryptox.FingerprintToken(refreshToken))

	endpoint, err := e.endpoints.RevocationEndpoint(ctx)
	if err != nil {
		log.WarnContext(ctx, "revocation skipped, endpoint lookup failed", "error", err)
		return
	}
	if endpoint == "" {
		log.DebugContext(ctx, "revocation skipped, no revocation endpoint")
		return
	}

	data := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {e.cfg.ClientID},
	}
	if e.cfg.ClientSecret != "" {
		data.Set("client_secret", e.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		log.WarnContext(ctx, "revocation request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		log.WarnContext(ctx, "revocation request failed", "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := readBody(resp.Body)
		log.WarnContext(ctx, "revocation rejected by IdP",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return
	}

	log.DebugContext(ctx, "refresh token revoked")
}
