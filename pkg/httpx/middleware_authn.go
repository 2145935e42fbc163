package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

// TokenVerifier decides whether a bearer token is acceptable. It logs its
// own reasons; the middleware only sees yes or no.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*jwtx.Claims, bool)
}

// Authn rejects requests without a verifiable bearer token and stores the
// claims in the request context for handlers further down.
func Authn(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, ok := v.VerifyAccessToken(r.Context(), raw)
			if !ok {
				writeBearerError(w, "token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithAuth(r.Context(), raw, claims)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RFC 6750 error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, ErrInvalidToken)
}
