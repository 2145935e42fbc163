package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants for locally issued tokens and IdP responses
// that leave lifetimes out.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime assumed for refresh tokens when
	// the IdP doesn't tell us.
	DefaultRefreshTokenTTL = 24 * time.Hour

	// DefaultLeeway is the clock skew we tolerate on exp/nbf/iat.
	DefaultLeeway = 5 * time.Second
)

// AMR values we set on locally issued tokens.
const (
	AMRPassword = "pwd"
)

// Claims are access-token claims used for both local and IdP tokens, we are
// keeping additive changes to preserve compatibility for later.
type Claims struct {
	jwt.RegisteredClaims

	/* Cross-service custom fields */

	// Session ID
	SID string `json:"sid,omitempty"`

	// Permission Scopes "chat:read, chat:write" (local tokens)
	Scopes []string `json:"scopes,omitempty"`

	// Scope is the space-delimited OAuth2 scope most IdPs put in access
	// tokens instead of a list.
	Scope string `json:"scope,omitempty"`

	// Authentication Methods Reference ["pwd","mfa"]
	// 		"pwd": Password-based Authentication
	//		"otp": One-time Password (e.g. TOTP)
	//		"mfa": Multi-factor Auth was used
	AMR []string `json:"amr,omitempty"`

	// Username for the authenticated user
	Username string `json:"username,omitempty"`

	// PreferredName is the display name for the user
	PreferredName string `json:"preferred_name,omitempty"`
}

// IDClaims are the claims of an OpenID Connect ID token. Profile fields are
// optional, the IdP decides what it shares.
type IDClaims struct {
	Claims

	Email             string `json:"email,omitempty"`
	EmailVerified     bool   `json:"email_verified,omitempty"`
	Name              string `json:"name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Picture           string `json:"picture,omitempty"`
	Nonce             string `json:"nonce,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(
	subject, sid string,
	scopes, amr []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	username, preferredName string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:           sid,
		Scopes:        scopes,
		AMR:           amr,
		Username:      username,
		PreferredName: preferredName,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// AllScopes merges the list and space-delimited scope claims.
func (c *Claims) AllScopes() []string {
	out := slices.Clone(c.Scopes)
	for _, s := range strings.Fields(c.Scope) {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ValidateSubject makes sure the token names someone. A correctly signed
// token without a subject is still useless to us.
func (c *Claims) ValidateSubject() error {
	if strings.TrimSpace(c.Subject) == "" {
		return ErrMissingSubject
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}
