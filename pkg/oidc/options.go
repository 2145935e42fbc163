package oidc

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodySize caps every body we read from the IdP.
const maxBodySize = 1 << 20

// Option configures the caches and the Exchanger.
type Option func(*settings)

type settings struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		client: http.DefaultClient,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithHTTPClient sets the client used for every IdP call. Timeouts are the
// client's business, nothing here adds one.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBodySize))
}
