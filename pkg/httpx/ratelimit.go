package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig allows Requests per Window with bursts up to Burst.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Burst    int
}

func (c RateLimitConfig) limit() rate.Limit {
	if c.Window <= 0 || c.Requests <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.Requests) / c.Window.Seconds())
}

// Rate limit profiles. RateLimitFromEnv lets deployments override them.
var (
	// StrictLimit guards credential checks: login and token grants.
	StrictLimit = RateLimitConfig{Requests: 5, Window: time.Minute, Burst: 5}

	// ModerateLimit guards calls that reach the IdP on the caller's behalf.
	ModerateLimit = RateLimitConfig{Requests: 20, Window: time.Minute, Burst: 20}

	// LenientLimit is for probes and other cheap endpoints.
	LenientLimit = RateLimitConfig{Requests: 100, Window: time.Minute, Burst: 100}
)

// RateLimitFromEnv overrides def from RATELIMIT_<prefix>_REQUESTS,
// RATELIMIT_<prefix>_WINDOW_SEC and RATELIMIT_<prefix>_BURST. Unset or
// non-positive values keep the default.
func RateLimitFromEnv(prefix string, def RateLimitConfig) RateLimitConfig {
	read := func(field string) (int, bool) {
		n, err := strconv.Atoi(os.Getenv("RATELIMIT_" + prefix + "_" + field))
		return n, err == nil && n > 0
	}

	cfg := def
	if n, ok := read("REQUESTS"); ok {
		cfg.Requests = n
	}
	if n, ok := read("WINDOW_SEC"); ok {
		cfg.Window = time.Duration(n) * time.Second
	}
	if n, ok := read("BURST"); ok {
		cfg.Burst = n
	}
	return cfg
}

// KeyFunc groups requests that share a limiter. An empty key is not
// limited.
type KeyFunc func(*http.Request) string

// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP headers
// ClientIP believes. With none configured the headers are ignored, since
// any client can set them.
var TrustedProxies []netip.Prefix

// ParseTrustedProxies reads a comma or space separated list of CIDRs and
// bare addresses, e.g. "10.0.0.0/8, 192.168.1.10".
func ParseTrustedProxies(s string) ([]netip.Prefix, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })

	out := make([]netip.Prefix, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, "/") {
			p, err := netip.ParsePrefix(f)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", f, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(f)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", f, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func trustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP is the remote address. When that address is a trusted proxy,
// X-Forwarded-For is walked from the right and the first hop that is not a
// trusted proxy wins, then X-Real-IP is tried.
func ClientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !trustedProxy(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !trustedProxy(hop) || i == 0 {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

// UserID keys on the subject Authn stored in the request context.
func UserID(r *http.Request) string {
	s, _ := r.Context().Value(CtxKeyUserID).(string)
	return s
}

// FormField keys on a form or query parameter, e.g. the username of a
// login attempt.
func FormField(name string) KeyFunc {
	return func(r *http.Request) string {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return r.FormValue(name)
	}
}

// Composite joins the non-empty keys of fns with ":".
func Composite(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, ":")
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiters keeps one token bucket per key and forgets keys that have been
// idle for a while.
type Limiters struct {
	cfg  RateLimitConfig
	idle time.Duration
	now  func() time.Time

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

// NewLimiters returns an empty set for cfg. now may be nil.
func NewLimiters(cfg RateLimitConfig, now func() time.Time) *Limiters {
	if now == nil {
		now = time.Now
	}
	return &Limiters{
		cfg:       cfg,
		idle:      max(2*cfg.Window, time.Minute),
		now:       now,
		entries:   make(map[string]*limiterEntry),
		lastSweep: now(),
	}
}

// Allow takes a token for key. When none is left it reports how long
// until one is.
func (l *Limiters) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.cfg.limit(), max(l.cfg.Burst, 1))}
		l.entries[key] = e
	}
	e.lastSeen = now

	res := e.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len is the number of keys currently tracked.
func (l *Limiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiters) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= l.idle {
			delete(l.entries, k)
		}
	}
}

// RateLimit answers 429 with Retry-After once key has used up its budget.
func RateLimit(cfg RateLimitConfig, key KeyFunc) Middleware {
	return RateLimitWith(NewLimiters(cfg, nil), key)
}

// RateLimitWith is RateLimit over an existing Limiters.
func RateLimitWith(l *Limiters, key KeyFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				slogx.FromContext(r.Context()).Warn("rate limit: no key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			ok, delay := l.Allow(k)
			if !ok {
				retryAfter := max(int(delay.Seconds()+0.5), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Requests))
				w.Header().Set("X-RateLimit-Window", l.cfg.Window.String())

				slogx.FromContext(r.Context()).Warn("rate limit exceeded",
					"key", k,
					"endpoint", r.URL.Path,
					"retry_after", retryAfter,
				)

				WriteJSON(w, http.StatusTooManyRequests, &OAuth2Error{
					Code:        "rate_limit_exceeded",
					Description: "too many requests, try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP limits per client address.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimit(cfg, ClientIP)
}

// RateLimitByIPAndFormField limits per client address and form field.
func RateLimitByIPAndFormField(cfg RateLimitConfig, field string) Middleware {
	return RateLimit(cfg, Composite(ClientIP, FormField(field)))
}

// RateLimitByUser limits per authenticated subject and client address. Put
// it after Authn in the chain.
func RateLimitByUser(cfg RateLimitConfig) Middleware {
	return RateLimit(cfg, Composite(UserID, ClientIP))
}
