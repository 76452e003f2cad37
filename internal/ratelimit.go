package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiters hands out one token bucket per client address. Buckets idle
// longer than ttl are dropped on the next sweep.
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimiters(rps, burst int64, ttl time.Duration) *clientLimiters {
	if burst <= 0 {
		burst = max(rps, 1)
	}
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   int(burst),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewRateLimitHandler limits requests per client IP. A non-positive rps
// disables limiting.
func NewRateLimitHandler(next http.Handler, rps int64, burst int64, ttl time.Duration) http.Handler {
	if rps <= 0 {
		return next
	}
	limiters := newClientLimiters(rps, burst, ttl)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiters.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *clientLimiters) allow(client string) bool {
	now := c.now()
	c.mu.Lock()
	if c.ttl > 0 && now.Sub(c.lastSweep) >= c.ttl {
		c.lastSweep = now
		for key, l := range c.clients {
			if now.Sub(l.seen) > c.ttl {
				delete(c.clients, key)
			}
		}
	}
	l, ok := c.clients[client]
	if !ok {
		l = &clientLimiter{Limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = l
	}
	l.seen = now
	c.mu.Unlock()

	return l.AllowN(now, 1)
}

// clientIP prefers proxy headers, since the server usually runs behind one.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
