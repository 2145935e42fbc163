package app_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/internal/authn/app"
	"github.com/aussiebroadwan/tokengate/internal/testidp"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("OIDC_ISSUER", testidp.DefaultIssuer)
	t.Setenv("OIDC_CLIENT_ID", testidp.DefaultClientID)
	t.Setenv("OIDC_REDIRECT_URI", "https://app.example.com/cb")
	t.Setenv("AUTH_LOCAL_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequiredEnv(t)
		cfg := app.LoadConfig()

		require.Equal(t, testidp.DefaultIssuer, cfg.Auth.Issuer)
		require.Equal(t, authn.DefaultJWKSTTL, cfg.Auth.JWKSTTL)
		require.Equal(t, authn.DefaultLocalIssuer, cfg.Auth.LocalIssuer)
		require.Empty(t, cfg.Auth.Scopes)
		require.Empty(t, cfg.DatabaseFile)
		require.Equal(t, 8080, cfg.Port)
		require.Equal(t, 10*time.Second, cfg.HTTPClientTimeout)
		require.Empty(t, cfg.TrustedProxies)
		require.NoError(t, cfg.Auth.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OIDC_SCOPES", "openid email")
		t.Setenv("OIDC_JWKS_TTL_SECONDS", "60")
		t.Setenv("OIDC_TOKEN_ENDPOINT", "https://idp.example.com/oauth/token")
		t.Setenv("AUTH_ACCESS_TOKEN_TTL", "5m")
		t.Setenv("SHUTDOWN_GRACE_PERIOD", "3")
		t.Setenv("PORT", "not-a-port")

		cfg := app.LoadConfig()
		require.Equal(t, []string{"openid", "email"}, cfg.Auth.Scopes)
		require.Equal(t, time.Minute, cfg.Auth.JWKSTTL)
		require.Equal(t, "https://idp.example.com/oauth/token", cfg.Auth.Endpoints.Token)
		require.Equal(t, 5*time.Minute, cfg.Auth.LocalAccessTTL)
		require.Equal(t, 3*time.Second, cfg.ShutdownGracePeriod)
		require.Equal(t, 8080, cfg.Port)
	})

	t.Run("negative TTL is rejected later", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OIDC_DISCOVERY_TTL_SECONDS", "-5")

		_, err := app.New(app.LoadConfig(), app.WithLogger(slogx.Discard()))
		require.ErrorIs(t, err, authn.ErrInvalidConfig)
	})
}

func TestNewRejectsBadTrustedProxies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, not-an-ip")

	_, err := app.New(app.LoadConfig(), app.WithLogger(slogx.Discard()))
	require.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestNewRequiresSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_LOCAL_SECRET", "")

	_, err := app.New(app.LoadConfig(), app.WithLogger(slogx.Discard()))
	require.ErrorIs(t, err, authn.ErrInvalidConfig)
}

func TestApplicationLogin(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	t.Setenv("AUTH_DATABASE_FILE", filepath.Join(dir, "users.db"))
	t.Setenv("AUTH_PEPPER_FILE", filepath.Join(dir, "pepper"))
	cfg := app.LoadConfig()

	st, err := app.OpenStore(cfg)
	require.NoError(t, err)
	_, err = st.CreateUser(context.Background(), "alice", "Alice", "hunter22", nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	idp := testidp.New(t, "")
	application, err := app.New(cfg, app.WithHTTPClient(idp.Client()), app.WithLogger(slogx.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	form := url.Values{"username": {"alice"}, "password": {"hunter22"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestApplicationServeAndShutdown(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SHUTDOWN_GRACE_PERIOD", "1s")

	idp := testidp.New(t, "")
	application, err := app.New(app.LoadConfig(), app.WithHTTPClient(idp.Client()), app.WithLogger(slogx.Discard()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/livez")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not shut down")
	}
}
