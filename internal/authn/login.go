package authn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("authn: invalid credentials")

	// ErrUserNotFound is what Users implementations return for a miss.
	ErrUserNotFound = errors.New("authn: user not found")

	// ErrLoginDisabled is returned when no Users store was configured.
	ErrLoginDisabled = errors.New("authn: local login is disabled")
)

// User is a locally provisioned account. Password material stays inside
// the Users implementation.
type User struct {
	ID            string
	Username      string
	PreferredName string
	Scopes        []string
}

// Users is the read-only account store behind local login.
type Users interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	VerifyPassword(ctx context.Context, user *User, password string) error
}

// LoginResult is a freshly signed local access token.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Claims      jwtx.Claims
}

// Login checks a username/password pair and signs a local access token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s.users == nil {
		return nil, ErrLoginDisabled
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.users.VerifyPassword(ctx, user, password); err != nil {
		s.logger.DebugContext(ctx, "login: password rejected", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}

	claims := jwtx.NewAccessClaims(
		user.ID,              // subject
		"",                   // session ID
		user.Scopes,          // scopes
		[]string{jwtx.AMRPassword},
		s.cfg.LocalAccessTTL, // token lifetime
		s.cfg.LocalIssuer,    // issuer
		nil,                  // audience
		user.Username,        // username
		user.PreferredName,   // preferred name
		s.now(),              // current time
	)

	token, err := s.SignAccessToken(claims)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		Claims:      claims,
	}, nil
}
