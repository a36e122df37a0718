package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

// RateLimiter applies a per-client token bucket keyed by remote IP.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rps      rate.Limit
	burst    int
	lastSeen time.Duration
}

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows rps requests per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastSeen: 10 * time.Minute,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if client, ok := rl.clients[key]; ok {
		client.seen = now
		return client.limiter
	}

	// Opportunistic sweep of idle clients.
	for k, client := range rl.clients {
		if now.Sub(client.seen) > rl.lastSeen {
			delete(rl.clients, k)
		}
	}

	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[key] = &clientLimiter{limiter: limiter, seen: now}
	return limiter
}

// Middleware enforces the limit.
func (rl *RateLimiter) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !rl.limiterFor(host).Allow() {
				onError(w, r, platformerrors.RateLimitExceeded(rl.burst, "1s"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
