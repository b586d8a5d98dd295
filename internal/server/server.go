// Package server wires the rate limiter, middleware and handlers into an
// HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/emadnahed/ratelimiter/internal/config"
	"github.com/emadnahed/ratelimiter/internal/handlers"
	"github.com/emadnahed/ratelimiter/internal/metrics"
	"github.com/emadnahed/ratelimiter/internal/middleware"
	"github.com/emadnahed/ratelimiter/internal/ratelimit"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// RejectionRecorder receives the identifier of every rejected request.
type RejectionRecorder interface {
	RecordRejection(identifier string)
}

// Option configures a Server.
type Option func(*Server)

// WithRedisClient supplies the client used by the redis backend.
func WithRedisClient(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithLimiter replaces the limiter built from configuration.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) {
		s.rateLimiter = l
	}
}

// Server represents the HTTP server.
type Server struct {
	cfg               *config.Config
	log               *logger.Logger
	httpServer        *http.Server
	healthHandler     *handlers.HealthHandler
	dataHandler       *handlers.DataHandler
	rejectionsHandler *handlers.RejectionsHandler
	rejections        RejectionRecorder
	redis             *redis.Client
	rateLimiter       ratelimit.Limiter
	listener          net.Listener
	running           bool
	mu                sync.RWMutex
}

// New creates a new Server instance.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		log:           log,
		healthHandler: handlers.NewHealthHandler(),
		dataHandler:   handlers.NewDataHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rateLimiter == nil {
		limiter, err := s.newLimiter()
		if err != nil {
			return nil, err
		}
		s.rateLimiter = limiter
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.buildMiddlewareChain(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// newLimiter builds the sliding window limiter for the configured backend.
func (s *Server) newLimiter() (*ratelimit.SlidingWindowLimiter, error) {
	rate := s.cfg.Rate
	if err := rate.Validate(); err != nil {
		return nil, err
	}

	limits := ratelimit.Config{Requests: rate.Requests, Window: rate.Window}
	opts := []ratelimit.Option{
		ratelimit.WithSweepInterval(rate.SweepInterval),
		ratelimit.WithSweepFunc(metrics.RecordSweep),
	}

	var store ratelimit.HistoryStore
	switch rate.Backend {
	case config.BackendRedis:
		if s.redis == nil {
			return nil, fmt.Errorf("%w: redis backend selected without a redis client", config.ErrInvalidRateLimit)
		}
		redisStore := ratelimit.NewRedisStore(s.redis, s.cfg.Redis.KeyPrefix, rate.Window)
		s.healthHandler.AddCheck("redis", redisStore.Ping)
		store = redisStore
	default:
		store = ratelimit.NewMemoryStore()
	}

	limiter, err := ratelimit.NewSlidingWindowLimiter(limits, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	s.log.Info("rate limiting enabled",
		"backend", rate.Backend,
		"requests", rate.Requests,
		"window", rate.Window.String(),
	)
	return limiter, nil
}

// buildMiddlewareChain creates the middleware chain shared by every route.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	chain := middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientIP(s.cfg.Rate.TrustProxy, s.cfg.Rate.TrustedProxies),
		middleware.Logging(s.log),
	)
	return chain.Then(handler)
}

// registerRoutes sets up the HTTP routes. Only the data route is rate limited.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.healthHandler.Status)
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("GET /ready", s.healthHandler.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	limited := middleware.RateLimit(s.rateLimiter, middleware.RateLimitConfig{
		TrustProxy:     s.cfg.Rate.TrustProxy,
		TrustedProxies: s.cfg.Rate.TrustedProxies,
		APIKeyHeader:   s.cfg.Rate.APIKeyHeader,
		Logger:         s.log,
		OnReject:       s.recordRejection,
	})
	mux.Handle("GET /api/data", limited(http.HandlerFunc(s.dataHandler.GetData)))

	mux.HandleFunc("GET /api/v1/rejections", s.handleRejections)
}

// recordRejection forwards a rejection to the audit when one is attached.
func (s *Server) recordRejection(identifier string) {
	s.mu.RLock()
	rec := s.rejections
	s.mu.RUnlock()

	if rec != nil {
		rec.RecordRejection(identifier)
	}
}

// handleRejections routes to the rejections handler when the audit is enabled.
func (s *Server) handleRejections(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.rejectionsHandler
	s.mu.RUnlock()

	if h == nil {
		http.Error(w, "Rejection audit not configured", http.StatusServiceUnavailable)
		return
	}
	h.List(w, r)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	// Listen first so Addr reports the real port when configured with 0.
	listener, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.log.Info("server starting", "address", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server and stops the limiter's sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	if closeErr := s.rateLimiter.Close(); closeErr != nil {
		s.log.Error("failed to close rate limiter", "error", closeErr)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err)
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}

// Limiter returns the limiter guarding /api/data.
func (s *Server) Limiter() ratelimit.Limiter {
	return s.rateLimiter
}

// SetRejectionRecorder attaches the rejection audit.
func (s *Server) SetRejectionRecorder(rec RejectionRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = rec
}

// SetRejectionsHandler enables GET /api/v1/rejections.
func (s *Server) SetRejectionsHandler(h *handlers.RejectionsHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectionsHandler = h
}
