package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// ipWindowLimiter enforces a per-client-IP request rate over a trailing
// window, mirroring the approach the WebSocket session layer uses for
// per-connection inbound frames: timestamps within the trailing window
// rather than a fixed bucket, so a burst straddling a boundary cannot double
// the effective rate. Idle IP entries are never actively evicted; at the
// traffic volumes this service expects the map stays small enough that a
// periodic sweep would add complexity without a measurable benefit.
type ipWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func newIPWindowLimiter(limit int, window time.Duration) *ipWindowLimiter {
	return &ipWindowLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// allow records one hit for key and reports whether it falls within the
// configured rate, along with the number of seconds until the oldest hit in
// the window expires (for a Retry-After header).
func (l *ipWindowLimiter) allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	existing := l.hits[key]
	kept := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		retryAfter := int(kept[0].Add(l.window).Sub(now).Seconds()) + 1
		l.hits[key] = kept
		return false, retryAfter
	}

	kept = append(kept, now)
	l.hits[key] = kept
	return true, 0
}

// RateLimit returns a middleware that caps requests per client IP to limit
// occurrences within window. Breaching the limit returns 429 with a
// Retry-After header, per the standard error envelope.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newIPWindowLimiter(limit, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.allow(clientIP(r))
			if !ok {
				ErrTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote IP with any port stripped. This
// service expects to sit directly behind a transparent TCP proxy, so
// X-Forwarded-For is not trusted here — chi's RealIP middleware, if mounted
// upstream of this one, has already normalized r.RemoteAddr when applicable.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
