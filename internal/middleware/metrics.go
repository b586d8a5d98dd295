package middleware

import (
	"net/http"
	"time"

	"github.com/emadnahed/ratelimiter/internal/metrics"
)

// statusRecorder remembers the first status code sent downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
	sent   bool
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.sent {
		sr.status, sr.sent = code, true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.sent = true
	return sr.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// routeLabels is the closed set of path labels; anything else is "/other".
var routeLabels = map[string]struct{}{
	"/status":            {},
	"/health":            {},
	"/ready":             {},
	"/metrics":           {},
	"/api/data":          {},
	"/api/v1/rejections": {},
}

// Metrics counts requests per method, route and status, and tracks how many
// are in flight.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.ActiveConnections.Inc()
			defer metrics.ActiveConnections.Dec()

			start := time.Now()
			sr := recordStatus(w)
			next.ServeHTTP(sr, r)

			metrics.RecordRequest(r.Method, normalizePath(r.URL.Path), sr.status, time.Since(start))
		})
	}
}

func normalizePath(path string) string {
	if _, ok := routeLabels[path]; ok {
		return path
	}
	return "/other"
}
