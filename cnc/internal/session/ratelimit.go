package session

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a per-connection inbound message rate. It
// tracks timestamps within the trailing 1-second window rather than a fixed
// bucket reset, so a burst straddling a bucket boundary cannot double the
// effective rate.
type slidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   []time.Time
}

func newSlidingWindowLimiter(limitPerSecond int) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limit:  limitPerSecond,
		window: time.Second,
		hits:   make([]time.Time, 0, limitPerSecond),
	}
}

// Allow records one hit and reports whether it falls within the configured
// rate. Once the limit is exceeded the caller is expected to close the
// connection with code 4429 rather than keep calling Allow.
func (l *slidingWindowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.hits[:0]
	for _, t := range l.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.hits = kept

	if len(l.hits) >= l.limit {
		return false
	}
	l.hits = append(l.hits, now)
	return true
}
