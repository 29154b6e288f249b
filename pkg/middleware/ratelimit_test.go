package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/notewise/notewise/pkg/auth"
)

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithClaims(r.Context(), &auth.Claims{UserID: userID}))
}

func mustAllow(t *testing.T, l Limiter, key string) Decision {
	t.Helper()
	d, err := l.Allow(context.Background(), key)
	if err != nil {
		t.Fatalf("Allow(%q) error: %v", key, err)
	}
	return d
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	key := "test-user"

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if mustAllow(t, limiter, key).Allowed {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	now = now.Add(time.Second)
	if !mustAllow(t, limiter, key).Allowed {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute, BurstSize: 2})

	d := mustAllow(t, limiter, "k")
	if d.Remaining != 11 {
		t.Errorf("Remaining = %d, want 11", d.Remaining)
	}
	if d.Limit != 10 {
		t.Errorf("Limit = %d, want 10", d.Limit)
	}
}

func TestRateLimiter_TokenCapRefill(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Second, BurstSize: 0})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	mustAllow(t, limiter, "k")
	now = now.Add(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if mustAllow(t, limiter, "k").Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Allowed %d after long idle, want capacity 2", allowed)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	mustAllow(t, limiter, "idle")
	now = now.Add(3 * time.Second)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if _, ok := limiter.buckets["idle"]; ok {
		t.Error("Idle bucket should have been removed")
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour, BurstSize: 0})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Allowed %d concurrent requests, want 50", allowed)
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.config.RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
		t.Error("nil config should fall back to defaults")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"forwarded chain", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"real ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"no port", "192.0.2.9", nil, "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

type recordingLimiter struct {
	keys []string
	err  error
	deny bool
}

func (l *recordingLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return Decision{}, l.err
	}
	return Decision{Allowed: !l.deny, Limit: 5, Reset: time.Now().Add(30 * time.Second)}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Keys(t *testing.T) {
	user := &recordingLimiter{}
	anon := &recordingLimiter{}
	handler := NewRateLimitMiddleware(user, anon, nil, nil).Handler(okHandler())

	req := httptest.NewRequest("POST", "/transformations", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	handler.ServeHTTP(httptest.NewRecorder(), withUser(req, "user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(user.keys) != 1 || user.keys[0] != "user:user-1" {
		t.Errorf("user limiter keys = %v", user.keys)
	}
	if len(anon.keys) != 1 || anon.keys[0] != "ip:192.0.2.1" {
		t.Errorf("anonymous limiter keys = %v", anon.keys)
	}
}

func TestRateLimitMiddleware_IPHandlerIgnoresUser(t *testing.T) {
	user := &recordingLimiter{}
	anon := &recordingLimiter{}
	handler := NewRateLimitMiddleware(user, anon, nil, nil).IPHandler(okHandler())

	req := httptest.NewRequest("GET", "/subscription-status", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	handler.ServeHTTP(httptest.NewRecorder(), withUser(req, "user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(user.keys) != 0 {
		t.Errorf("user limiter keys = %v, want none", user.keys)
	}
	if len(anon.keys) != 2 || anon.keys[0] != "ip:192.0.2.1" || anon.keys[1] != "ip:192.0.2.1" {
		t.Errorf("anonymous limiter keys = %v", anon.keys)
	}
}

func TestRateLimitMiddleware_Exceeded(t *testing.T) {
	limiter := &recordingLimiter{deny: true}
	handler := NewRateLimitMiddleware(limiter, limiter, nil, nil).Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest("POST", "/transformations", nil), "user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if w.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	limiter := &recordingLimiter{err: errors.New("connection refused")}
	handler := NewRateLimitMiddleware(limiter, limiter, nil, nil).Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter errors", w.Code)
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")

	for i := 0; i < 3; i++ {
		if !mustAllow(t, limiter, "user:u1").Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	d := mustAllow(t, limiter, "user:u1")
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("4th request: allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}

	if ttl := mr.TTL("notewise:ratelimit:user:u1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("window TTL = %v", ttl)
	}

	// Window expiry resets the count
	mr.FastForward(time.Minute + time.Second)
	if !mustAllow(t, limiter, "user:u1").Allowed {
		t.Error("request after window should be allowed")
	}

	if !mustAllow(t, limiter, "user:u2").Allowed {
		t.Error("keys must be independent")
	}
}

func TestDistributedRateLimiter_WindowNotExtended(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}, "rl")

	mustAllow(t, limiter, "k")
	mr.FastForward(40 * time.Second)
	mustAllow(t, limiter, "k")

	if ttl := mr.TTL("rl:k"); ttl > 20*time.Second {
		t.Errorf("TTL = %v, later requests must not extend the window", ttl)
	}
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewDistributedRateLimiter(client, nil, "")
	mr.Close()

	if _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Error("expected error with redis down")
	}
	if err := limiter.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure")
	}
}
