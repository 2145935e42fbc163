package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/jwtx"
	"golang.org/x/sync/singleflight"
)

// DefaultJWKSTTL is how long a fetched signing key is trusted.
const DefaultJWKSTTL = time.Hour

// JWKSSource tells the cache where the key set lives.
type JWKSSource interface {
	JWKSURI(ctx context.Context) (string, error)
}

// StaticJWKS is a JWKSSource for a fixed URI.
type StaticJWKS string

func (s StaticJWKS) JWKSURI(context.Context) (string, error) { return string(s), nil }

type jwkEntry struct {
	key       any
	expiresAt time.Time
}

// JWKSCache caches IdP public keys by kid.
//
// The set is refreshed as a whole: while any unexpired key is cached no
// fetch happens, even for a kid we don't have. An unknown kid clears the
// cache and forces exactly one refetch, which is how key rotation is picked
// up without hammering the IdP.
type JWKSCache struct {
	settings

	source JWKSSource
	ttl    time.Duration

	mu    sync.RWMutex
	keys  map[string]jwkEntry
	group singleflight.Group
}

// NewJWKSCache creates an empty cache. A ttl <= 0 falls back to
// DefaultJWKSTTL.
func NewJWKSCache(source JWKSSource, ttl time.Duration, opts ...Option) *JWKSCache {
	if ttl <= 0 {
		ttl = DefaultJWKSTTL
	}
	return &JWKSCache{
		settings: newSettings(opts),
		source:   source,
		ttl:      ttl,
		keys:     make(map[string]jwkEntry),
	}
}

// SigningKey returns the public key for kid. It implements
// jwtx.KeyResolver.
func (c *JWKSCache) SigningKey(ctx context.Context, kid string) (any, error) {
	if c.purge() == 0 {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	// Most likely a rotation since the last fetch, one retry only
	c.logger.InfoContext(ctx, "kid not in JWKS cache, forcing refresh", "kid", kid)
	c.Clear()
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, &KeyNotFoundError{Kid: kid}
}

// Clear drops every cached key.
func (c *JWKSCache) Clear() {
	c.mu.Lock()
	clear(c.keys)
	c.mu.Unlock()
}

// Len reports how many keys are cached, expired ones included.
func (c *JWKSCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// purge drops expired entries and returns how many are left.
func (c *JWKSCache) purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for kid, e := range c.keys {
		if !e.expiresAt.After(now) {
			delete(c.keys, kid)
		}
	}
	return len(c.keys)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return e.key, true
}

// refresh fetches the key set unless a concurrent refresh already filled
// the cache. See shared for how ctx is treated.
func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err := shared(ctx, &c.group, "jwks", func(ctx context.Context) (any, error) {
		if c.purge() > 0 {
			return nil, nil
		}

		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		expiresAt := c.now().Add(c.ttl)
		c.mu.Lock()
		for kid, key := range keys {
			c.keys[kid] = jwkEntry{key: key, expiresAt: expiresAt}
		}
		c.mu.Unlock()

		return nil, nil
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]any, error) {
	uri, err := c.source.JWKSURI(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrJWKSFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "JWKS fetch failed", "url", uri, "status", resp.StatusCode)
		return nil, newStatusError(ErrJWKSFetchFailed, "jwks", resp.StatusCode, body)
	}

	var set struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJWKSPayload, err)
	}
	var raws []json.RawMessage
	if len(set.Keys) == 0 || json.Unmarshal(set.Keys, &raws) != nil || raws == nil {
		return nil, fmt.Errorf("%w: keys is not an array", ErrInvalidJWKSPayload)
	}

	keys := make(map[string]any, len(raws))
	for i, raw := range raws {
		var head struct {
			Kid string `json:"kid"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Kid == "" {
			c.logger.DebugContext(ctx, "skipping JWK without kid", "index", i)
			continue
		}

		key, err := jwtx.ParsePublicKey(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping unusable JWK", "kid", head.Kid, "error", err)
			continue
		}
		keys[head.Kid] = key
	}

	c.logger.DebugContext(ctx, "JWKS fetched", "url", uri, "keys", len(keys), "ttl", c.ttl)
	return keys, nil
}
