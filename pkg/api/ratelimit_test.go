package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(ctx, 1, 2)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	hit := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
		return w
	}

	assert.Equal(t, http.StatusNoContent, hit().Code, "first token of burst")
	assert.Equal(t, http.StatusNoContent, hit().Code, "second token of burst")

	w := hit()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 1, retry)

	now = now.Add(1100 * time.Millisecond)
	assert.Equal(t, http.StatusNoContent, hit().Code, "token refilled")
	assert.Equal(t, http.StatusTooManyRequests, hit().Code, "only one refilled")
}

func TestClientIP(t *testing.T) {
	for addr, want := range map[string]string{
		"10.0.0.1:443":  "10.0.0.1",
		"[::1]:8787":    "::1",
		"[2001:db8::1]": "2001:db8::1",
		"unix-socket":   "unix-socket",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		assert.Equal(t, want, clientIP(r), addr)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewRateLimiter(ctx, 0.001, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"10.0.0.1:1000", "10.0.0.2:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:2000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiter_Evict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(ctx, 1, 1)
	limiter.now = func() time.Time { return now }
	limiter.limiter("10.0.0.1")

	now = now.Add(visitorTTL + time.Second)
	limiter.limiter("10.0.0.2")
	limiter.evict(now.Add(-visitorTTL))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}
