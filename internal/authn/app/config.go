package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
)

type Config struct {
	Auth authn.Config

	DatabaseFile        string        // Optional: SQLite user store, local login is off without it
	PepperFile          string        // Optional: password pepper (default: ./pepper)
	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
	HTTPClientTimeout   time.Duration // Timeout for every IdP call (default: 10s)
	TrustedProxies      string        // Optional: CIDRs allowed to set X-Forwarded-For
}

// LoadConfig reads the configuration from the environment. Required
// values are not checked here, authn.New does that.
func LoadConfig() Config {
	return Config{
		Auth: authn.Config{
			Issuer:       os.Getenv("OIDC_ISSUER"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			RedirectURI:  os.Getenv("OIDC_REDIRECT_URI"),
			Audience:     os.Getenv("OIDC_AUDIENCE"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			Endpoints: oidc.Endpoints{
				Token:         os.Getenv("OIDC_TOKEN_ENDPOINT"),
				JWKS:          os.Getenv("OIDC_JWKS_URI"),
				UserInfo:      os.Getenv("OIDC_USERINFO_ENDPOINT"),
				Revocation:    os.Getenv("OIDC_REVOCATION_ENDPOINT"),
				Authorization: os.Getenv("OIDC_AUTHORIZATION_ENDPOINT"),
			},
			Scopes:          strings.Fields(os.Getenv("OIDC_SCOPES")),
			RefreshTokenTTL: getEnvSecondsOrDefault("OIDC_REFRESH_TOKEN_TTL_SECONDS", authn.DefaultRefreshTokenTTL),
			JWKSTTL:         getEnvSecondsOrDefault("OIDC_JWKS_TTL_SECONDS", authn.DefaultJWKSTTL),
			DiscoveryTTL:    getEnvSecondsOrDefault("OIDC_DISCOVERY_TTL_SECONDS", authn.DefaultDiscoveryTTL),
			LocalSecret:     os.Getenv("AUTH_LOCAL_SECRET"),
			LocalIssuer:     getEnvOrDefault("AUTH_LOCAL_ISSUER", authn.DefaultLocalIssuer),
			LocalAccessTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 0),
		},
		DatabaseFile:        os.Getenv("AUTH_DATABASE_FILE"),
		PepperFile:          getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HTTPClientTimeout:   getEnvDurationOrDefault("HTTP_CLIENT_TIMEOUT", 10*time.Second),
		TrustedProxies:      os.Getenv("TRUSTED_PROXIES"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvSecondsOrDefault reads a whole number of seconds. Negative values
// are passed through so validation can reject them.
func getEnvSecondsOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return time.Duration(v) * time.Second
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// "1h", "30m", "90s"
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	// bare integers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
