package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/emadnahed/ratelimiter/internal/metrics"
	"github.com/emadnahed/ratelimiter/internal/ratelimit"
	"github.com/emadnahed/ratelimiter/internal/security"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RejectFunc is notified of every rejected caller.
type RejectFunc func(identifier string)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	TrustProxy     bool     // Trust X-Forwarded-For header
	APIKeyHeader   string   // Header name for API key (e.g., "X-API-Key")
	TrustedProxies []string // Proxy addresses or CIDRs allowed to forward
	Logger         *logger.Logger
	OnReject       RejectFunc
}

// RateLimitResponse is the JSON response for rate limited requests.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimit returns a middleware that admits or rejects requests using limiter.
// Limiter errors fail open: the request is served and the error logged.
func RateLimit(limiter ratelimit.Limiter, cfg RateLimitConfig) Middleware {
	proxies := newProxySet(cfg.TrustedProxies)
	sanitizer := security.NewSanitizer(security.DefaultConfig())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := getIdentifier(r, cfg, proxies, sanitizer)

			start := time.Now()
			decision, err := limiter.Allow(r.Context(), identifier)
			if err != nil {
				metrics.RecordDecision(metrics.DecisionError, time.Since(start))
				if cfg.Logger != nil {
					cfg.Logger.Error("rate limit check failed",
						"error", err,
						"caller", identifier,
						"request_id", GetRequestID(r.Context()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, decision)

			if !decision.Allowed {
				metrics.RecordDecision(metrics.DecisionRejected, time.Since(start))
				if cfg.Logger != nil {
					cfg.Logger.Debug("request rejected",
						"caller", identifier,
						"retry_after", retryAfterSeconds(decision.RetryAfter),
					)
				}
				if cfg.OnReject != nil {
					cfg.OnReject(identifier)
				}
				writeRateLimitResponse(w, decision)
				return
			}

			metrics.RecordDecision(metrics.DecisionAdmitted, time.Since(start))
			next.ServeHTTP(w, r)
		})
	}
}

// getIdentifier determines the rate limit identifier for the request.
// It prefers a valid API key if configured, otherwise uses client IP.
// Malformed keys are treated as absent.
func getIdentifier(r *http.Request, cfg RateLimitConfig, proxies proxySet, sanitizer *security.Sanitizer) string {
	if cfg.APIKeyHeader != "" {
		if apiKey, err := sanitizer.APIKey(r.Header.Get(cfg.APIKeyHeader)); err == nil {
			return "api:" + apiKey
		}
	}

	return "ip:" + getClientIPForRateLimit(r, cfg.TrustProxy, proxies)
}

// getClientIPForRateLimit extracts the client IP for rate limiting.
func getClientIPForRateLimit(r *http.Request, trustProxy bool, proxies proxySet) string {
	// Prefer the IP resolved by the ClientIP middleware
	if ip := GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return extractClientIP(r, trustProxy, proxies)
}

// setRateLimitHeaders sets the rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))

	if !d.Allowed {
		h.Set(HeaderRateLimitRemaining, "0")
		h.Set(HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
	} else {
		h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	}

	if reset := resetUnix(d); reset > 0 {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(reset, 10))
	}
}

// resetUnix returns the reset instant in unix seconds, rounded up. Limiters
// that only report ResetAfter are anchored to the wall clock.
func resetUnix(d *ratelimit.Decision) int64 {
	at := d.ResetAt
	if at.IsZero() {
		if d.ResetAfter <= 0 {
			return 0
		}
		at = time.Now().Add(d.ResetAfter)
	}
	secs := at.Unix()
	if at.Nanosecond() > 0 {
		secs++
	}
	return secs
}

// writeRateLimitResponse writes the 429 response.
func writeRateLimitResponse(w http.ResponseWriter, d *ratelimit.Decision) {
	retry := retryAfterSeconds(d.RetryAfter)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(RateLimitResponse{
		Error:      "Rate limit exceeded.",
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("Try again in %d seconds.", retry),
		RetryAfter: retry,
	})
}

// retryAfterSeconds rounds a retry delay up to whole seconds so a client
// that waits the advertised time is never rejected again for the same entry.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
