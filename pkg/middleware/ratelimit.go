package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default rate limit settings for
// unauthenticated callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings for
// LLM-backed endpoints
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter implements rate limiting using token bucket algorithm
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new in-process rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     rl.capacity(),
			lastUpdate: rl.now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)

	// Refill tokens based on elapsed time
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	d := Decision{
		Limit: rl.config.RequestsPerWindow,
		Reset: now.Add(rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)),
	}
	if b.tokens > 0 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = b.tokens
	return d, nil
}

// Cleanup removes idle buckets
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// RateLimitMiddleware provides HTTP rate limiting keyed by authenticated
// user, falling back to client IP
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	logger           *observability.Logger
	metrics          *observability.Metrics
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(userLimiter, anonymousLimiter Limiter, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &RateLimitMiddleware{
		userLimiter:      userLimiter,
		anonymousLimiter: anonymousLimiter,
		logger:           logger,
		metrics:          metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting keyed by the
// authenticated user, or by client IP when there is none. Limiter errors
// fail open.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := UserID(r); userID != "" {
			m.limit(w, r, next, "user", m.userLimiter, "user:"+userID)
			return
		}
		m.limit(w, r, next, "ip", m.anonymousLimiter, "ip:"+getClientIP(r))
	})
}

// IPHandler limits by client IP only. It runs in front of authentication so
// floods of anonymous or badly signed requests are throttled before any
// token is verified.
func (m *RateLimitMiddleware) IPHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.limit(w, r, next, "ip", m.anonymousLimiter, "ip:"+getClientIP(r))
	})
}

func (m *RateLimitMiddleware) limit(w http.ResponseWriter, r *http.Request, next http.Handler, scope string, limiter Limiter, key string) {
	d, err := limiter.Allow(r.Context(), key)
	if err != nil {
		observability.FromContextOr(r.Context(), m.logger).
			WithError(err).
			Warn("Rate limiter unavailable, allowing request")
		next.ServeHTTP(w, r)
		return
	}

	setRateLimitHeaders(w, d)
	if !d.Allowed {
		m.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
		retryAfter := time.Until(d.Reset).Seconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
		httputil.WriteTooManyRequests(w, "rate limit exceeded")
		return
	}

	next.ServeHTTP(w, r)
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	if !d.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.Reset.Unix()))
	}
}

func getClientIP(r *http.Request) string {
	// First hop of X-Forwarded-For is the client when behind a proxy
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
