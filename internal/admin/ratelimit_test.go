package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, 5, 10)
	defer rl.Stop()

	called := false
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_BlocksExcessiveOverrides(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, 5, 10)
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Override endpoint: 10 req/min with burst=3
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/swaps/override", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// Fourth request exceeds the burst
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/swaps/override", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("fourth request: expected 429, got %d", rec.Code)
	}

	// Check Retry-After header
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
}

func TestRateLimitMiddleware_DifferentEndpointsIndependent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, 5, 10)
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust the override burst
	for i := 0; i < 4; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/v1/swaps/override", nil))
	}

	// Role changes use a separate limiter
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/users/role", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("role request: expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_DifferentClientsIndependent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, 5, 10)
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust the burst for one client
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/swaps/override", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// A different client IP still has its own budget
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/swaps/override", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_EvictsStaleLimiters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, 5, 10)
	defer rl.Stop()

	now := time.Now()
	rl.nowFunc = func() time.Time { return now }

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil))
	if rl.LimiterCount() != 1 {
		t.Fatalf("expected 1 limiter, got %d", rl.LimiterCount())
	}

	// Advance past the TTL and sweep
	now = now.Add(staleLimiterTTL + time.Minute)
	rl.evictStale()

	if rl.LimiterCount() != 0 {
		t.Errorf("expected stale limiter to be evicted, got %d", rl.LimiterCount())
	}
}
