package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
)

// idpError maps an error from the IdP round trip to what the caller sees.
// A 4xx from the token endpoint means the grant was bad, anything else is
// the IdP's fault.
func idpError(ctx context.Context, log *slog.Logger, op string, err error) *httpx.OAuth2Error {
	var statusErr *oidc.StatusError
	if errors.As(err, &statusErr) && errors.Is(err, oidc.ErrTokenEndpoint) &&
		statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError {
		log.InfoContext(ctx, op+": grant rejected by IdP", "status", statusErr.StatusCode, "idp_error", statusErr.Code)
		return httpx.ErrInvalidGrant
	}

	if errors.Is(err, context.Canceled) {
		log.DebugContext(ctx, op+": client went away", "error", err)
	} else {
		log.WarnContext(ctx, op+": IdP call failed", "error", err)
	}
	return httpx.ErrBadGateway
}
