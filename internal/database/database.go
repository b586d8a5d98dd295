// Package database provides PostgreSQL connectivity for the rejection audit.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emadnahed/ratelimiter/internal/config"
)

const (
	defaultMaxConns = 10
	maxPoolConns    = 1000
	applicationName = "ratelimiter"
)

// Pool is the audit database handle.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens the audit pool and pings it once so a bad DSN fails at boot.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// PoolConfig translates cfg into pgxpool settings. Out of range sizes fall
// back to the defaults and the idle floor never exceeds the pool cap.
func PoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MaxConns = defaultMaxConns
	if n := cfg.MaxOpenConns; n > 0 && n <= maxPoolConns {
		pc.MaxConns = int32(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		pc.MinConns = min(int32(min(n, maxPoolConns)), pc.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName

	return pc, nil
}

// BuildDSN renders cfg as a postgres:// URL, escaping credentials.
func BuildDSN(cfg *config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// HealthCheck reports whether the database answers a ping.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.Ping(ctx)
}
