package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const rateLimitTimeout = 500 * time.Millisecond

// The window starts with the first hit; the key expires with it. Returns the
// hit count and the window's remaining milliseconds.
const fixedWindowLua = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`

// RateLimiter is a fixed-window counter per client IP kept in Redis.
type RateLimiter struct {
	client  *redis.Client
	prefix  string
	limit   int
	window  time.Duration
	script  *redis.Script
	trusted []netip.Prefix
}

type LimiterOption func(*RateLimiter)

// WithTrustedProxies lets peers inside these ranges name the client through
// X-Forwarded-For or X-Real-IP. Without it only the socket address counts.
func WithTrustedProxies(prefixes []netip.Prefix) LimiterOption {
	return func(rl *RateLimiter) { rl.trusted = prefixes }
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	rl := &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		script: redis.NewScript(fixedWindowLua),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// ParseTrustedProxies accepts CIDRs and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Middleware returns the rate limiting middleware. A nil limiter or a Redis
// failure lets the request through.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || rl.client == nil || rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retryAfter, err := rl.allow(r.Context(), rl.clientIP(r))
			if err != nil {
				logger.WarnContext(r.Context(), "Rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				response.RateLimit(w, "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allow counts a hit and, when over the limit, reports the whole seconds
// until the window resets (at least 1).
func (rl *RateLimiter) allow(ctx context.Context, ip string) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	key := rl.prefix + ":" + ip
	res, err := rl.script.Run(ctx, rl.client, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	if res[0] <= int64(rl.limit) {
		return true, 0, nil
	}
	return false, retryAfterSeconds(time.Duration(res[1])*time.Millisecond, rl.window), nil
}

func retryAfterSeconds(ttl, window time.Duration) int {
	if ttl <= 0 {
		ttl = window
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// clientIP is the socket peer unless that peer is a trusted proxy, in which
// case it is the right-most forwarded hop that is not itself trusted.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !rl.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !rl.isTrusted(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (rl *RateLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}
