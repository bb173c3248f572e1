package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorIdle is how long an identity's bucket survives without requests.
const visitorIdle = 10 * time.Minute

// writeLimiter keeps one token bucket per identity for mutating requests.
//
// Thread Safety: Safe for concurrent use.
type writeLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newWriteLimiter returns nil when rps is not positive, which disables limiting.
// If burst is 0, it defaults to max(1, int(rps)).
func newWriteLimiter(rps float64, burst int) *writeLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &writeLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// allow consumes one token of key's bucket.
func (l *writeLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// limitWrites throttles non-safe methods per authenticated user.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !s.limiter.allow(actorOf(r).UserID) {
				w.Header().Set("Retry-After", "1")
				writeErrorCode(w, http.StatusTooManyRequests, "rate_limited", "too many write requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
