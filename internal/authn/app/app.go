package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	httpapi "github.com/aussiebroadwan/tokengate/internal/authn/http"
	"github.com/aussiebroadwan/tokengate/internal/authn/store/sqlite"
	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// BuildVersion is overridden at build time with -ldflags.
var BuildVersion = "v0.1.0"

// Application is the tokengate server with its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store  *sqlite.Store // nil when local login is off
	svc    *authn.Service
	router *httpapi.Router
	server *http.Server
}

// Option adjusts how New wires the application. Tests use it to reach an
// in-process IdP.
type Option func(*options)

type options struct {
	client *http.Client
	logger *slog.Logger
}

// WithHTTPClient replaces the client used for IdP calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds every dependency. Nothing talks to the IdP yet.
func New(cfg Config, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{cfg: cfg, logger: o.logger}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "tokengate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}

	client := o.client
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPClientTimeout}
	}

	svcOpts := []authn.Option{
		authn.WithHTTPClient(client),
		authn.WithLogger(app.logger),
	}

	if cfg.DatabaseFile != "" {
		if err := app.initDatabase(); err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, authn.WithUsers(app.store))
	} else {
		app.logger.Info("AUTH_DATABASE_FILE not set, local login disabled")
	}

	svc, err := authn.New(cfg.Auth, svcOpts...)
	if err != nil {
		app.closeStore()
		return nil, err
	}
	app.svc = svc

	if err := app.initHTTP(); err != nil {
		_ = app.closeStore()
		return nil, err
	}
	return app, nil
}

// OpenStore opens and migrates the user store named by cfg, for the
// command line tools that provision accounts.
func OpenStore(cfg Config) (*sqlite.Store, error) {
	if cfg.DatabaseFile == "" {
		return nil, errors.New("AUTH_DATABASE_FILE is not set")
	}

	pepper, err := cryptox.LoadPepper(cfg.PepperFile)
	if err != nil {
		return nil, err
	}

	st, err := sqlite.NewStore(sqlite.DSN(cfg.DatabaseFile), cryptox.NewHasher(pepper))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	return st, nil
}

func (app *Application) initDatabase() error {
	st, err := OpenStore(app.cfg)
	if err != nil {
		return err
	}
	app.store = st
	app.logger.Info("user store ready", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initHTTP() error {
	trusted, err := httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	httpx.TrustedProxies = trusted

	httpx.StrictLimit = httpx.RateLimitFromEnv("STRICT", httpx.StrictLimit)
	httpx.ModerateLimit = httpx.RateLimitFromEnv("MODERATE", httpx.ModerateLimit)
	httpx.LenientLimit = httpx.RateLimitFromEnv("LENIENT", httpx.LenientLimit)

	app.router = httpapi.NewRouter(app.svc, BuildVersion, app.logger)
	if app.store != nil {
		app.router.Database = app.store
	}
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

// Handler is the root HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return app.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	app.logger.Info("tokengate starting", "addr", ln.Addr().String(), "version", BuildVersion, "issuer", app.cfg.Auth.Issuer)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		app.closeStore()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutdown requested", "cause", context.Cause(ctx))
		return app.Shutdown()
	}
}

// Shutdown drains in-flight requests for up to ShutdownGracePeriod.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tokengate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.closeStore(); err != nil {
		return err
	}

	app.logger.Info("tokengate stopped")
	return nil
}

func (app *Application) closeStore() error {
	if app.store == nil {
		return nil
	}
	err := app.store.Close()
	app.store = nil
	if err != nil {
		app.logger.Error("error closing database", "error", err)
	}
	return err
}
