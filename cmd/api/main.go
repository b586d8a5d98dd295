// Package main is the entry point for the rate limiter API server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/emadnahed/ratelimiter/internal/analytics"
	"github.com/emadnahed/ratelimiter/internal/cache"
	"github.com/emadnahed/ratelimiter/internal/config"
	"github.com/emadnahed/ratelimiter/internal/database"
	"github.com/emadnahed/ratelimiter/internal/handlers"
	"github.com/emadnahed/ratelimiter/internal/repository"
	"github.com/emadnahed/ratelimiter/internal/server"
	"github.com/emadnahed/ratelimiter/internal/services"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.Log.File != "" {
		w := logger.NewFileWriter(logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		defer w.Close()
		out = w
	}
	log := logger.New(out, cfg.App.LogLevel).With("env", cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if cfg.RedisEnabled() {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, server.WithRedisClient(client))
		log.Info("connected to redis", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	}

	srv, err := server.New(cfg, log, opts...)
	if err != nil {
		return err
	}

	if cfg.DatabaseEnabled() {
		counter, closeAudit, err := setupAudit(ctx, cfg, log, srv)
		if err != nil {
			return err
		}
		defer closeAudit()
		defer counter.Stop()
	} else {
		log.Info("rejection audit disabled", "reason", "DB_PASSWORD not set")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// setupAudit connects to PostgreSQL, applies the schema and attaches the
// rejection counter and listing endpoint to srv.
func setupAudit(ctx context.Context, cfg *config.Config, log *logger.Logger, srv *server.Server) (*analytics.RejectionCounter, func(), error) {
	pool, err := database.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	migrator, err := database.NewMigrator(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("database ready", "migrations_applied", applied)

	repo := repository.NewPostgresRejectionRepository(pool)
	counter := analytics.NewRejectionCounter(analytics.Config{
		FlushInterval: cfg.Audit.FlushInterval,
		BatchSize:     cfg.Audit.BatchSize,
	}, analytics.NewRepositoryFlusher(repo, log))

	srv.SetRejectionRecorder(counter)
	srv.SetRejectionsHandler(handlers.NewRejectionsHandler(services.NewRejectionService(repo, counter), log))
	srv.HealthHandler().AddCheck("postgres", repo.HealthCheck)

	return counter, pool.Close, nil
}
