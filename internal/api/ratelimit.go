package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter map; past it the map is reset.
const maxTrackedClients = 10000

// ClientLimiter throttles requests per client address with a token bucket
// each.
type ClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewClientLimiter allows rps requests per second per client with the given
// burst. rps <= 0 disables throttling.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether client may make a request now.
func (l *ClientLimiter) Allow(client string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedClients {
		l.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := l.limiters[client]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[client] = lim
	}
	return lim.Allow()
}

// Middleware rejects throttled requests with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ClientLimiter) retryAfterSeconds() int {
	if l.rps <= 0 || l.rps >= 1 {
		return 1
	}
	return int(1/float64(l.rps) + 0.999)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
