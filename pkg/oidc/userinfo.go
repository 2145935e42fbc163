package oidc

import (
	"context"
	"encoding/json"
	"net/http"
)

// FetchUserInfo calls the userinfo endpoint with the access token. It never
// fails loudly: no endpoint, transport errors, non-2xx answers and non-object
// bodies all come back as (nil, false) with a warning logged.
func (e *Exchanger) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, bool) {
	endpoint, err := e.endpoints.UserInfoEndpoint(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "userinfo endpoint lookup failed", "error", err)
		return nil, false
	}
	if endpoint == "" {
		e.logger.WarnContext(ctx, "userinfo requested but no userinfo endpoint configured")
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		e.logger.WarnContext(ctx, "userinfo request build failed", "error", err)
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.WarnContext(ctx, "userinfo request failed", "error", err)
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		e.logger.WarnContext(ctx, "userinfo read failed", "error", err)
		return nil, false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.WarnContext(ctx, "userinfo rejected by IdP", "status", resp.StatusCode)
		return nil, false
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil || info == nil {
		e.logger.WarnContext(ctx, "userinfo response is not a JSON object", "error", err)
		return nil, false
	}

	return info, true
}
