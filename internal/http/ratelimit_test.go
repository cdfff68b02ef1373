package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimiter(RateLimitConfig{Enabled: true, RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("192.0.2.1"))
	assert.True(t, l.allow("192.0.2.1"))
	assert.False(t, l.allow("192.0.2.1"), "burst exhausted")
	assert.True(t, l.allow("192.0.2.2"), "addresses are limited independently")

	now = now.Add(time.Second)
	assert.True(t, l.allow("192.0.2.1"), "tokens refill")
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimiter(RateLimitConfig{Enabled: true, RPS: 1, Burst: 1})
	l.now = func() time.Time { return now }

	l.allow("192.0.2.1")
	now = now.Add(limiterIdleTTL + time.Second)
	l.allow("192.0.2.2")

	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "192.0.2.2")
}

func TestRateLimiter_Middleware(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	server, err := NewServer(staticSource(testSnapshot(), nil), logging.NewTestLogger().Logger, cfg)
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
