package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-IP request rate (requests per
	// second) used when the server config leaves RateLimit at zero.
	defaultRateLimit = 10

	// defaultRateBurst is the per-IP burst capacity used when the server
	// config leaves RateBurst at zero.
	defaultRateBurst = 20

	// visitorTTL is how long an idle IP keeps its bucket before the sweeper
	// drops it.
	visitorTTL = 5 * time.Minute

	// sweepInterval is how often the background sweeper runs.
	sweepInterval = time.Minute
)

// visitor pairs a token bucket with the time its IP was last seen.
type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies an independent token bucket per client IP. Buckets for
// idle IPs are swept periodically so the map stays bounded.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	rps   rate.Limit
	burst int
	log   *slog.Logger
}

// newRateLimiter builds a rateLimiter and starts its sweeper goroutine.
// Calling the returned stop function shuts the sweeper down.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	return rl, func() { close(done) }
}

// allow reports whether ip may proceed, consuming one token from its bucket.
// A bucket is created on first sight of the IP.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.bucket.Allow()
}

// sweep drops visitors idle longer than visitorTTL.
func (rl *rateLimiter) sweep() {
	cutoff := time.Now().Add(-visitorTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// middleware rejects over-limit requests with 429 and a Retry-After header;
// everything else flows through to next.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. X-Forwarded-For is deliberately
// ignored: this server binds to localhost and is not meant to sit behind a
// proxy that the limiter should trust.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
