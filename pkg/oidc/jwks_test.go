package oidc_test

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokengate/internal/testidp"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/stretchr/testify/require"
)

func newJWKSCache(idp *testidp.Server, clock *testidp.Clock, ttl time.Duration) *oidc.JWKSCache {
	return oidc.NewJWKSCache(oidc.StaticJWKS(idp.URL(testidp.PathJWKS)), ttl,
		oidc.WithHTTPClient(idp.Client()),
		oidc.WithClock(clock.Now),
	)
}

func TestJWKSCacheResolvesKey(t *testing.T) {
	idp := testidp.New(t, "")
	cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

	key, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	_, ok := key.(*rsa.PublicKey)
	require.True(t, ok)

	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, idp.Hits(testidp.PathJWKS))
}

func TestJWKSCacheURIFromDiscovery(t *testing.T) {
	idp := testidp.New(t, "")
	clock := testidp.NewClock(time.Now())
	discovery := newDiscovery(idp, clock, time.Hour)
	resolver := oidc.NewEndpointResolver(oidc.Endpoints{}, discovery)

	cache := oidc.NewJWKSCache(resolver, time.Hour,
		oidc.WithHTTPClient(idp.Client()),
		oidc.WithClock(clock.Now),
	)
	_, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, idp.Hits(testidp.PathDiscovery))
	require.Equal(t, 1, idp.Hits(testidp.PathJWKS))
}

func TestJWKSCacheCoalescesConcurrentMisses(t *testing.T) {
	idp := testidp.New(t, "")
	cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.SigningKey(context.Background(), "k1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, idp.Hits(testidp.PathJWKS))
}

func TestJWKSCacheCancelledCallerLeavesOthersAlone(t *testing.T) {
	idp := testidp.New(t, "")
	body, err := json.Marshal(idp.JWKS())
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var hits atomic.Int32
	cache := oidc.NewJWKSCache(oidc.StaticJWKS("https://idp.example.com/jwks"), time.Hour,
		oidc.WithHTTPClient(gatedClient(string(body), started, release, &hits)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cache.SigningKey(ctx, "k1")
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := cache.SigningKey(context.Background(), "k1")
		second <- err
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	require.Equal(t, int32(1), hits.Load())
}

func TestJWKSCacheForcedRefreshOnRotation(t *testing.T) {
	idp := testidp.New(t, "")
	cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

	_, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)

	// IdP rolls over to k2 and drops k1
	kid := idp.Rotate("RS256")
	require.Equal(t, "k2", kid)

	_, err = cache.SigningKey(context.Background(), kid)
	require.NoError(t, err)
	require.Equal(t, 2, idp.Hits(testidp.PathJWKS))

	// k1 was cleared along with everything else
	_, err = cache.SigningKey(context.Background(), "k1")
	require.ErrorIs(t, err, oidc.ErrKeyNotFound)
}

func TestJWKSCacheUnknownKidIsBounded(t *testing.T) {
	t.Run("cold cache", func(t *testing.T) {
		idp := testidp.New(t, "")
		cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

		_, err := cache.SigningKey(context.Background(), "nope")
		require.ErrorIs(t, err, oidc.ErrKeyNotFound)

		var notFound *oidc.KeyNotFoundError
		require.True(t, errors.As(err, &notFound))
		require.Equal(t, "nope", notFound.Kid)

		// Initial fill plus exactly one forced refresh
		require.Equal(t, 2, idp.Hits(testidp.PathJWKS))
	})

	t.Run("warm cache", func(t *testing.T) {
		idp := testidp.New(t, "")
		cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

		_, err := cache.SigningKey(context.Background(), "k1")
		require.NoError(t, err)

		_, err = cache.SigningKey(context.Background(), "nope")
		require.ErrorIs(t, err, oidc.ErrKeyNotFound)
		require.Equal(t, 2, idp.Hits(testidp.PathJWKS))
	})
}

// The key set is refreshed as a whole. A kid published after the last
// fetch is only seen through the forced refresh, never through a regular
// fill, because any unexpired key suppresses fetching. This is the batching
// behaviour we keep on purpose; if per-key freshness is ever wanted this is
// the test that has to change.
func TestJWKSCacheBatchSemantics(t *testing.T) {
	idp := testidp.New(t, "")
	clock := testidp.NewClock(time.Now())
	cache := newJWKSCache(idp, clock, time.Hour)

	_, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)

	// k2 appears at the IdP while k1 is still cached
	k2 := idp.AddKey("ES256", false)

	// Asking for k1 again costs nothing, the new key is not noticed
	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, idp.Hits(testidp.PathJWKS))

	// Asking for k2 goes through the forced refresh and picks both up
	_, err = cache.SigningKey(context.Background(), k2)
	require.NoError(t, err)
	require.Equal(t, 2, idp.Hits(testidp.PathJWKS))
	require.Equal(t, 2, cache.Len())
}

func TestJWKSCacheExpiry(t *testing.T) {
	idp := testidp.New(t, "")
	clock := testidp.NewClock(time.Now())
	cache := newJWKSCache(idp, clock, time.Minute)

	_, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, idp.Hits(testidp.PathJWKS))

	clock.Advance(2 * time.Second)
	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 2, idp.Hits(testidp.PathJWKS))
}

func TestJWKSCacheClear(t *testing.T) {
	idp := testidp.New(t, "")
	cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

	_, err := cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	cache.Clear()
	require.Zero(t, cache.Len())

	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 2, idp.Hits(testidp.PathJWKS))
}

func TestJWKSCacheSkipsUnusableKeys(t *testing.T) {
	idp := testidp.New(t, "")
	good, err := json.Marshal(idp.JWKS().Keys[0])
	require.NoError(t, err)

	idp.SetJWKSBody([]byte(`{"keys":[
		{"kty":"RSA","kid":"broken","n":"!!","e":"AQAB"},
		{"kty":"oct","kid":"hmac","k":"c2VjcmV0"},
		{"kty":"RSA","n":"AQAB","e":"AQAB"},
		` + string(good) + `
	]}`))

	cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)
	_, err = cache.SigningKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	_, err = cache.SigningKey(context.Background(), "hmac")
	require.ErrorIs(t, err, oidc.ErrKeyNotFound)
}

func TestJWKSCacheFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		idp := testidp.New(t, "")
		idp.Fail(testidp.PathJWKS, http.StatusBadGateway)
		cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

		_, err := cache.SigningKey(context.Background(), "k1")
		require.ErrorIs(t, err, oidc.ErrJWKSFetchFailed)

		var statusErr *oidc.StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
		require.Zero(t, cache.Len())
	})

	for name, body := range map[string]string{
		"keys is an object": `{"keys":{"kid":"k1"}}`,
		"keys missing":      `{}`,
		"keys null":         `{"keys":null}`,
		"not JSON":          `nope`,
	} {
		t.Run(name, func(t *testing.T) {
			idp := testidp.New(t, "")
			idp.SetJWKSBody([]byte(body))
			cache := newJWKSCache(idp, testidp.NewClock(time.Now()), time.Hour)

			_, err := cache.SigningKey(context.Background(), "k1")
			require.ErrorIs(t, err, oidc.ErrInvalidJWKSPayload)
		})
	}

	t.Run("discovery down", func(t *testing.T) {
		idp := testidp.New(t, "")
		idp.Fail(testidp.PathDiscovery, http.StatusInternalServerError)
		resolver := oidc.NewEndpointResolver(oidc.Endpoints{}, newDiscovery(idp, testidp.NewClock(time.Now()), time.Hour))
		cache := oidc.NewJWKSCache(resolver, time.Hour, oidc.WithHTTPClient(idp.Client()))

		_, err := cache.SigningKey(context.Background(), "k1")
		require.ErrorIs(t, err, oidc.ErrJWKSFetchFailed)
		require.ErrorIs(t, err, oidc.ErrDiscoveryFetchFailed)
		require.Zero(t, idp.Hits(testidp.PathJWKS))
	})
}
