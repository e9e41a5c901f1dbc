package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

// Gate is a fixed-window limiter keyed by client identifier. It guards the job
// submission endpoint and is independent of the job store's capacity check.
type Gate struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

// NewGate allows limit requests per client in each window.
func NewGate(limit int, window time.Duration) *Gate {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Gate{limit: limit, window: window, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow records one request for client. When the window is exhausted it
// returns false and the time until the window resets.
func (g *Gate) Allow(client string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.After(g.nextSweep) {
		for key, b := range g.buckets {
			if now.After(b.until) {
				delete(g.buckets, key)
			}
		}
		g.nextSweep = now.Add(g.window)
	}

	b, ok := g.buckets[client]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(g.window)}
		g.buckets[client] = b
	}
	if b.count >= g.limit {
		return false, b.until.Sub(now)
	}
	b.count++
	return true, 0
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := g.Allow(clientIPForRateLimit(r))
		if !ok {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":               "rate_limited",
				"message":             "too many submissions, retry later",
				"retry_after_seconds": seconds,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
