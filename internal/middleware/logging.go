package middleware

import (
	"net/http"
	"time"

	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// Logging returns a middleware that writes one access log line per request.
// Rejected requests are logged at warn level, server errors at error level.
func Logging(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := recordStatus(w)

			next.ServeHTTP(sr, r)

			keyvals := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
				"client_ip", GetClientIP(r.Context()),
			}

			switch {
			case sr.status >= http.StatusInternalServerError:
				log.Error("request completed", keyvals...)
			case sr.status == http.StatusTooManyRequests:
				log.Warn("request completed", keyvals...)
			default:
				log.Info("request completed", keyvals...)
			}
		})
	}
}
