package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxClients = 4096
	clientIdle = 10 * time.Minute
)

// Limiter keeps one token bucket per client key. Idle buckets expire.
type Limiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter allows requestsPerSecond sustained with bursts of burst per client.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, clientIdle),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// GetLimiter returns the bucket for key, creating it on first use
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters.Get(key)
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	// Re-adding refreshes the idle expiry.
	l.limiters.Add(key, limiter)
	return limiter
}

func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Tokens returns the tokens currently available to key
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}

func (l *Limiter) Burst() int {
	return l.burst
}

// ClientKey identifies the caller by the first X-Forwarded-For hop, else the remote IP.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
