// Package sqlite is the local account store behind password login. The
// service only reads from it; accounts are provisioned with CreateUser from
// the command line.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/tokengate/internal/authn"
	"github.com/aussiebroadwan/tokengate/pkg/cryptox"
	"github.com/aussiebroadwan/tokengate/pkg/idx"

	_ "modernc.org/sqlite"
)

// ErrUsernameTaken is returned by CreateUser for a duplicate username.
var ErrUsernameTaken = errors.New("sqlite: username already exists")

// Store implements authn.Users on SQLite.
type Store struct {
	db     *sql.DB
	hasher *cryptox.Hasher
}

var _ authn.Users = (*Store)(nil)

// NewStore opens dsn. Call ApplyMigrations before first use.
func NewStore(dsn string, hasher *cryptox.Hasher) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, hasher: hasher}, nil
}

// DSN builds the connection string used for a database file.
func DSN(file string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", file)
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindUserByUsername looks a user up case-insensitively. Disabled accounts
// are reported as missing.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*authn.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, preferred_name, scopes FROM users WHERE username = ? AND disabled = 0`,
		username,
	)

	var (
		u      authn.User
		scopes string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PreferredName, &scopes); err != nil {
		return nil, mapNotFound(err)
	}
	u.Scopes = splitAndFilter(scopes)
	return &u, nil
}

// VerifyPassword checks password against the stored hash for user.
func (s *Store) VerifyPassword(ctx context.Context, user *authn.User, password string) error {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, user.ID).Scan(&hash)
	if err != nil {
		return mapNotFound(err)
	}
	return s.hasher.Verify(password, hash)
}

// CreateUser provisions an account and returns it with its new ID.
func (s *Store) CreateUser(ctx context.Context, username, preferredName, password string, scopes []string) (*authn.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("sqlite: username is required")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	u := &authn.User{
		ID:            idx.New().String(),
		Username:      username,
		PreferredName: preferredName,
		Scopes:        splitAndFilter(strings.Join(scopes, " ")),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, preferred_name, password_hash, scopes) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PreferredName, hash, strings.Join(u.Scopes, " "),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

// DisableUser stops an account from logging in without deleting it.
func (s *Store) DisableUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET disabled = 1, updated_at = CURRENT_TIMESTAMP WHERE username = ?`,
		username,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return authn.ErrUserNotFound
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return authn.ErrUserNotFound
	}
	return err
}

// splitAndFilter turns a space-delimited column into a deduplicated slice.
func splitAndFilter(s string) []string {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
