package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"missing header", "", false},
		{"client supplied id", "checkout-7f3a_01", true},
		{"uuid from upstream", "0b6a1d3e-4c5f-4d7e-9f2a-1b2c3d4e5f60", true},
		{"max length", strings.Repeat("a", maxRequestIDLength), true},
		{"over max length", strings.Repeat("a", maxRequestIDLength+1), false},
		{"spaces", "id with spaces", false},
		{"log injection", "abc\nlevel=error", false},
		{"non ascii", "zähler", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
			if tt.header != "" {
				req.Header.Set(HeaderXRequestID, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(HeaderXRequestID))
			if tt.keep {
				assert.Equal(t, tt.header, seen)
				return
			}
			_, err := uuid.Parse(seen)
			require.NoError(t, err, "replacement should be a UUID, got %q", seen)
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	h := RequestID()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	seen := make(map[string]struct{})
	for range 50 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
		seen[rec.Header().Get(HeaderXRequestID)] = struct{}{}
	}
	assert.Len(t, seen, 50)
}
