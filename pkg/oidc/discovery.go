package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultDiscoveryTTL is how long a discovery document is trusted.
const DefaultDiscoveryTTL = time.Hour

// DiscoveryDocument is the subset of OpenID Provider Metadata we use.
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	JWKSURI                       string   `json:"jwks_uri"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint,omitempty"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// WellKnownURL returns the discovery URL for issuer, normalised to exactly
// one slash before ".well-known".
func WellKnownURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
}

type discoveryEntry struct {
	doc       *DiscoveryDocument
	expiresAt time.Time
}

// DiscoveryCache holds a single discovery document for one issuer.
type DiscoveryCache struct {
	settings

	issuer string
	ttl    time.Duration

	mu    sync.RWMutex
	entry *discoveryEntry
	group singleflight.Group
}

// NewDiscoveryCache creates a cache for issuer. A ttl <= 0 falls back to
// DefaultDiscoveryTTL.
func NewDiscoveryCache(issuer string, ttl time.Duration, opts ...Option) *DiscoveryCache {
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &DiscoveryCache{
		settings: newSettings(opts),
		issuer:   issuer,
		ttl:      ttl,
	}
}

// Document returns the cached document, fetching it when absent or
// expired. Concurrent misses share one fetch, and cancelling ctx only
// abandons this caller's wait. A failed fetch leaves the cache as it was.
func (c *DiscoveryCache) Document(ctx context.Context) (*DiscoveryDocument, error) {
	if doc, ok := c.cached(); ok {
		return doc, nil
	}

	result, err := shared(ctx, &c.group, "discovery", func(ctx context.Context) (any, error) {
		// Double-check, another caller may have just filled it
		if doc, ok := c.cached(); ok {
			return doc, nil
		}

		doc, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entry = &discoveryEntry{doc: doc, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()

		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*DiscoveryDocument), nil
}

// Invalidate drops the cached document.
func (c *DiscoveryCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

func (c *DiscoveryCache) cached() (*DiscoveryDocument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil || !c.entry.expiresAt.After(c.now()) {
		return nil, false
	}
	return c.entry.doc, true
}

func (c *DiscoveryCache) fetch(ctx context.Context) (*DiscoveryDocument, error) {
	wellKnown := WellKnownURL(c.issuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDiscoveryFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "discovery fetch failed",
			"url", wellKnown,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, newStatusError(ErrDiscoveryFetchFailed, "discovery", resp.StatusCode, body)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode discovery document: %w", ErrInvalidIdPResponse, err)
	}

	if doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != strings.TrimRight(c.issuer, "/") {
		c.logger.WarnContext(ctx, "discovery issuer differs from configured issuer",
			"configured", c.issuer,
			"advertised", doc.Issuer,
		)
	}

	c.logger.DebugContext(ctx, "discovery document fetched", "url", wellKnown, "ttl", c.ttl)
	return &doc, nil
}
