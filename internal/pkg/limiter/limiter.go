/*
Package limiter provides token bucket rate limiting keyed by an arbitrary string.

The hub uses one instance keyed by client IP to throttle websocket connects and
another keyed by connection id to throttle chat messages. Idle buckets are swept
periodically so the key space does not grow without bound.
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/logx"
	"chathub/internal/pkg/resp"
)

// DefaultSweepInterval is how often idle buckets are removed.
const DefaultSweepInterval = 3 * time.Minute

// KeyedLimiter holds one rate.Limiter per key.
type KeyedLimiter struct {
	mu sync.RWMutex

	// limits maps a key (IP address or connection id) to its bucket.
	limits map[string]*rate.Limiter

	// r is the refill rate in events per second.
	r rate.Limit

	// b is the bucket size.
	b int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a KeyedLimiter and starts its sweeper; call Stop to end it.
func New(r rate.Limit, b int, sweepInterval time.Duration) *KeyedLimiter {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	l := &KeyedLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
		stop:   make(chan struct{}),
	}

	go l.sweep(sweepInterval)

	return l
}

// Get returns the bucket for key, creating it on first use (double-checked locking).
func (l *KeyedLimiter) Get(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limits[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists = l.limits[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limits[key] = limiter
	}

	return limiter
}

// Allow consumes one token for key.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.Get(key).Allow()
}

// Forget drops the bucket for key, e.g. when a connection closes.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limits, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limits)
}

// Stop ends the sweeper goroutine. It is safe to call more than once.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweep removes buckets that are full again, i.e. keys that have been idle.
func (l *KeyedLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			removed := 0
			for key, limiter := range l.limits {
				if limiter.TokensAt(now) >= float64(limiter.Burst()) {
					delete(l.limits, key)
					removed++
				}
			}
			remaining := len(l.limits)
			l.mu.Unlock()

			logx.Debug("Rate limiter sweep finished", "removed", removed, "remaining", remaining)
		}
	}
}

// ClientIP returns the host part of r.RemoteAddr, or "unknown_ip".
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}

	return ip
}

// Middleware rejects requests over the per-IP limit with ErrRateLimitExceeded (HTTP 429).
func (l *KeyedLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if !l.Allow(ip) {
			logx.Warn("Request rejected: rate limit exceeded.", "ip", logx.AnonymizeIP(ip), "uri", r.RequestURI)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
