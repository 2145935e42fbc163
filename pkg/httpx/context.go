package httpx

import (
	"context"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyClaims ctxKey = "claims"
	CtxKeyToken  ctxKey = "token"
)

func contextWithAuth(ctx context.Context, raw string, c *jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	ctx = context.WithValue(ctx, CtxKeyToken, raw)
	return ctx
}

// ClaimsFromContext returns the claims Authn verified for this request.
func ClaimsFromContext(ctx context.Context) (*jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(*jwtx.Claims)
	return c, ok
}

// BearerFromContext returns the raw token Authn verified.
func BearerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(CtxKeyToken).(string)
	return s
}
