package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/mockchat/backend/internal/metrics"
	"github.com/zhouzirui/mockchat/backend/pkg/utils"
)

const (
	limiterTTL      = 10 * time.Minute
	limiterSweepGap = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket pool. Idle buckets are swept
// lazily on access, so the pool owns no goroutines.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	endpoint string
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	m         map[string]*limiterEntry
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per
// client IP. endpoint labels the rate limit metric.
func NewRateLimiter(rps float64, burst int, endpoint string, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		endpoint: endpoint,
		logger:   logger,
		now:      time.Now,
		m:        make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= limiterSweepGap {
		cutoff := now.Add(-limiterTTL)
		for k, e := range rl.m {
			if e.lastSeen.Before(cutoff) {
				delete(rl.m, k)
			}
		}
		rl.lastSweep = now
	}

	if e, ok := rl.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !rl.Allow(key) {
			metrics.RateLimitHits.WithLabelValues(rl.endpoint).Inc()
			rl.logger.Warn().Str("ip", key).Str("endpoint", rl.endpoint).Msg("rate limit exceeded")

			retryAfter := 1
			if rl.rps > 0 {
				retryAfter = int(time.Duration(float64(time.Second)/float64(rl.rps)).Seconds()) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			utils.RespondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
