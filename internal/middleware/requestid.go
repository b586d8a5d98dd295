package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderXRequestID carries the per-request correlation ID in both directions.
const HeaderXRequestID = "X-Request-ID"

// maxRequestIDLength caps caller-supplied IDs before they reach the logs.
const maxRequestIDLength = 128

// RequestID tags every request with a correlation ID. A well-formed incoming
// X-Request-ID is kept, anything else is replaced with a fresh UUID. The ID is
// echoed on the response and stored in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderXRequestID)
			if !acceptableRequestID(id) {
				id = uuid.NewString()
			}

			w.Header().Set(HeaderXRequestID, id)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
		})
	}
}

// acceptableRequestID allows 1..maxRequestIDLength bytes of [A-Za-z0-9_-].
func acceptableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
