package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	svc          *authn.Service
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// Database is checked by /readyz when set.
	Database Pinger
}

func NewRouter(svc *authn.Service, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		svc:          svc,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerOIDC()
	r.registerUserInfo()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	// limited by IP + username against password guessing
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(&LoginHandler{Service: r.svc},
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)
}

func (r *Router) registerOIDC() {
	r.Mux.Handle("GET /v1/oidc/authorize",
		httpx.Chain(&AuthorizeHandler{Service: r.svc},
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("POST /v1/oidc/token",
		httpx.Chain(&TokenHandler{Service: r.svc},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/oidc/revoke",
		httpx.Chain(&RevokeHandler{Service: r.svc},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUserInfo() {
	r.Mux.Handle("GET /v1/userinfo",
		httpx.Chain(&UserInfoHandler{Service: r.svc},
			httpx.Authn(r.svc),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	checks := map[string]func(context.Context) error{
		"idp": r.svc.Ready,
	}
	if r.Database != nil {
		checks["database"] = r.Database.Ping
	}
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, checks),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
