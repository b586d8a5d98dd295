package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emadnahed/ratelimiter/internal/ratelimit"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// mockLimiter implements ratelimit.Limiter for testing.
type mockLimiter struct {
	decision *ratelimit.Decision
	err      error
	calls    []string
}

func (m *mockLimiter) Allow(ctx context.Context, identifier string) (*ratelimit.Decision, error) {
	m.calls = append(m.calls, identifier)
	return m.decision, m.err
}

func (m *mockLimiter) Reset(ctx context.Context, identifier string) error {
	return nil
}

func (m *mockLimiter) Close() error {
	return nil
}

func admitted(remaining int) *mockLimiter {
	return &mockLimiter{
		decision: &ratelimit.Decision{
			Allowed:    true,
			Limit:      10,
			Remaining:  remaining,
			ResetAfter: time.Minute,
		},
	}
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("admits request and sets quota headers", func(t *testing.T) {
		limiter := admitted(9)
		handlerCalled := false

		handler := RateLimit(limiter, RateLimitConfig{})(okHandler(&handlerCalled))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := serve(t, handler, req)

		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, "9", rec.Header().Get(HeaderRateLimitRemaining))
		assert.Empty(t, rec.Header().Get(HeaderRetryAfter))

		reset, err := strconv.ParseInt(rec.Header().Get(HeaderRateLimitReset), 10, 64)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().Add(time.Minute).Unix(), reset, 2)
	})

	t.Run("returns 429 when rejected", func(t *testing.T) {
		limiter := &mockLimiter{
			decision: &ratelimit.Decision{
				Allowed:    false,
				Limit:      5,
				RetryAfter: 55 * time.Second,
				ResetAfter: 55 * time.Second,
			},
		}
		handlerCalled := false
		var rejected []string

		handler := RateLimit(limiter, RateLimitConfig{
			OnReject: func(id string) { rejected = append(rejected, id) },
		})(okHandler(&handlerCalled))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "1.2.3.4:5555"
		rec := serve(t, handler, req)

		assert.False(t, handlerCalled, "handler should not be called when rate limited")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "5", rec.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))
		assert.Equal(t, "55", rec.Header().Get(HeaderRetryAfter))
		assert.Equal(t, []string{"ip:1.2.3.4"}, rejected)

		var resp RateLimitResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Rate limit exceeded.", resp.Error)
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Code)
		assert.Equal(t, "Try again in 55 seconds.", resp.Message)
		assert.Equal(t, 55, resp.RetryAfter)
	})

	t.Run("reset header follows the limiter clock", func(t *testing.T) {
		decidedAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
		limiter := &mockLimiter{
			decision: &ratelimit.Decision{
				Allowed:    true,
				Limit:      5,
				Remaining:  4,
				ResetAfter: 42 * time.Second,
				ResetAt:    decidedAt.Add(42 * time.Second),
			},
		}
		called := false

		handler := RateLimit(limiter, RateLimitConfig{})(okHandler(&called))
		rec := serve(t, handler, httptest.NewRequest(http.MethodGet, "/api/data", nil))

		assert.Equal(t, strconv.FormatInt(decidedAt.Unix()+42, 10), rec.Header().Get(HeaderRateLimitReset))
	})

	t.Run("reset header matches a fake-clock limiter", func(t *testing.T) {
		decidedAt := time.Unix(1_000_000_000, 0)
		limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Requests: 2, Window: time.Minute},
			ratelimit.WithClock(func() time.Time { return decidedAt }))
		require.NoError(t, err)
		defer limiter.Close()

		called := false
		handler := RateLimit(limiter, RateLimitConfig{})(okHandler(&called))
		rec := serve(t, handler, httptest.NewRequest(http.MethodGet, "/api/data", nil))

		assert.Equal(t, strconv.FormatInt(decidedAt.Add(time.Minute).Unix(), 10), rec.Header().Get(HeaderRateLimitReset))
	})

	t.Run("rounds sub-second retry up", func(t *testing.T) {
		limiter := &mockLimiter{
			decision: &ratelimit.Decision{
				Allowed:    false,
				Limit:      5,
				RetryAfter: 1500 * time.Millisecond,
			},
		}
		called := false

		handler := RateLimit(limiter, RateLimitConfig{})(okHandler(&called))
		rec := serve(t, handler, httptest.NewRequest(http.MethodGet, "/api/data", nil))

		assert.Equal(t, "2", rec.Header().Get(HeaderRetryAfter))
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		var buf bytes.Buffer
		limiter := &mockLimiter{err: errors.New("redis down")}
		handlerCalled := false

		handler := RateLimit(limiter, RateLimitConfig{
			Logger: logger.New(&buf, "error"),
		})(okHandler(&handlerCalled))

		rec := serve(t, handler, httptest.NewRequest(http.MethodGet, "/api/data", nil))

		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(HeaderRateLimitLimit))
		assert.Contains(t, buf.String(), "redis down")
	})

	t.Run("uses IP from context when available", func(t *testing.T) {
		limiter := admitted(9)

		chain := New(
			ClientIP(false, nil),
			RateLimit(limiter, RateLimitConfig{}),
		)
		called := false
		handler := chain.Then(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		serve(t, handler, req)

		require.Len(t, limiter.calls, 1)
		assert.Equal(t, "ip:192.168.1.1", limiter.calls[0])
	})

	t.Run("uses API key when provided", func(t *testing.T) {
		limiter := admitted(9)
		called := false

		handler := RateLimit(limiter, RateLimitConfig{
			APIKeyHeader: "X-API-Key",
		})(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-API-Key", "my-api-key-123")
		serve(t, handler, req)

		require.Len(t, limiter.calls, 1)
		assert.Equal(t, "api:my-api-key-123", limiter.calls[0])
	})

	t.Run("falls back to IP when API key not provided", func(t *testing.T) {
		limiter := admitted(9)
		called := false

		handler := RateLimit(limiter, RateLimitConfig{
			APIKeyHeader: "X-API-Key",
		})(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		serve(t, handler, req)

		require.Len(t, limiter.calls, 1)
		assert.Equal(t, "ip:192.168.1.1", limiter.calls[0])
	})

	t.Run("falls back to IP when API key is malformed", func(t *testing.T) {
		limiter := admitted(9)
		called := false

		handler := RateLimit(limiter, RateLimitConfig{
			APIKeyHeader: "X-API-Key",
		})(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-API-Key", "key with spaces")
		serve(t, handler, req)

		require.Len(t, limiter.calls, 1)
		assert.Equal(t, "ip:192.168.1.1", limiter.calls[0])
	})

	t.Run("uses X-Forwarded-For only when trusted", func(t *testing.T) {
		tests := []struct {
			name  string
			trust bool
			want  string
		}{
			{"trusted", true, "ip:203.0.113.7"},
			{"untrusted", false, "ip:10.0.0.1"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				limiter := admitted(9)
				called := false

				handler := RateLimit(limiter, RateLimitConfig{TrustProxy: tt.trust})(okHandler(&called))

				req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
				req.RemoteAddr = "10.0.0.1:80"
				req.Header.Set(HeaderXForwardedFor, "203.0.113.7, 10.0.0.1")
				serve(t, handler, req)

				require.Len(t, limiter.calls, 1)
				assert.Equal(t, tt.want, limiter.calls[0])
			})
		}
	})

	t.Run("end to end with sliding window limiter", func(t *testing.T) {
		limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Requests: 3, Window: time.Minute})
		require.NoError(t, err)
		defer limiter.Close()

		called := false
		handler := RateLimit(limiter, RateLimitConfig{})(okHandler(&called))

		for _, want := range []string{"2", "1", "0"} {
			req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
			req.RemoteAddr = "1.2.3.4:1000"
			rec := serve(t, handler, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, want, rec.Header().Get(HeaderRateLimitRemaining))
		}

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "1.2.3.4:1000"
		rec := serve(t, handler, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get(HeaderRetryAfter))

		// Another caller is unaffected.
		req = httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "5.6.7.8:1000"
		rec = serve(t, handler, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestResetUnix(t *testing.T) {
	at := time.Unix(1_700_000_060, 0)

	assert.Equal(t, at.Unix(), resetUnix(&ratelimit.Decision{ResetAt: at}))
	assert.Equal(t, at.Unix()+1, resetUnix(&ratelimit.Decision{ResetAt: at.Add(time.Millisecond)}), "rounded up")
	assert.Zero(t, resetUnix(&ratelimit.Decision{}))
	assert.InDelta(t, time.Now().Add(time.Minute).Unix(), resetUnix(&ratelimit.Decision{ResetAfter: time.Minute}), 2)
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{55 * time.Second, 55},
		{55*time.Second + time.Nanosecond, 56},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfterSeconds(tt.in))
		})
	}
}
