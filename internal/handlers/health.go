// Package handlers contains the HTTP handlers served behind the rate limiter.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// readyCheckTimeout bounds every dependency check run by Ready.
const readyCheckTimeout = 2 * time.Second

// HealthResponse is the liveness body served on /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse reports readiness and, when any are registered, the result
// of each dependency check.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the static liveness body served on /status.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves /status, /health and /ready.
type HealthHandler struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthHandler returns a handler that starts out ready.
func NewHealthHandler() *HealthHandler {
	h := &HealthHandler{checks: make(map[string]CheckFunc)}
	h.ready.Store(true)
	return h
}

// Status handles GET /status. It never touches the limiter or its stores.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK", Service: "Rate Limiter API"})
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: nowRFC3339()})
}

// Ready handles GET /ready. Checks run concurrently under readyCheckTimeout;
// any failure, or SetReady(false), answers 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	results := h.runChecks(r.Context())

	ok := h.ready.Load()
	for _, res := range results {
		if res != "ok" {
			ok = false
		}
	}

	resp := ReadyResponse{Status: "ready", Timestamp: nowRFC3339()}
	if len(results) > 0 {
		resp.Checks = results
	}
	code := http.StatusOK
	if !ok {
		resp.Status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			res := "ok"
			if err := check(ctx); err != nil {
				res = "fail: " + err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SetReady flips the readiness flag, e.g. while draining on shutdown.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the readiness flag.
func (h *HealthHandler) IsReady() bool {
	return h.ready.Load()
}

// AddCheck registers or replaces the dependency check called name.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
