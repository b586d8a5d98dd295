// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrInvalidRateLimit is returned when the rate limit settings cannot drive a limiter.
var ErrInvalidRateLimit = errors.New("invalid rate limit configuration")

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	Log      LogConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	Audit    AuditConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string
	LogLevel string
}

// LogConfig holds log output configuration. An empty File logs to stdout.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the listen address, bracketing IPv6 hosts.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Requests      int
	Window        time.Duration
	Backend       string
	SweepInterval time.Duration
	TrustProxy    bool
	APIKeyHeader  string

	// TrustedProxies restricts forwarding headers to these addresses or CIDRs.
	TrustedProxies []string
}

// Validate rejects settings that would make remaining or retry-after undefined.
func (r RateLimitConfig) Validate() error {
	if r.Requests <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_REQUESTS must be positive, got %d", ErrInvalidRateLimit, r.Requests)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_WINDOW must be positive, got %s", ErrInvalidRateLimit, r.Window)
	}
	switch r.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown RATE_LIMIT_BACKEND %q", ErrInvalidRateLimit, r.Backend)
	}
	return nil
}

// AuditConfig holds configuration for the rejection audit.
type AuditConfig struct {
	FlushInterval time.Duration
	BatchSize     int
}

// Load reads configuration from environment variables. Every unparsable
// variable is reported, not just the first.
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		App: AppConfig{
			Env:      env.str("APP_ENV", "development"),
			LogLevel: env.str("LOG_LEVEL", "info"),
		},
		Log: LogConfig{
			File:       env.str("LOG_FILE", ""),
			MaxSizeMB:  env.integer("LOG_MAX_SIZE_MB", 50),
			MaxBackups: env.integer("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: env.integer("LOG_MAX_AGE_DAYS", 28),
		},
		Server: ServerConfig{
			Host:            env.str("SERVER_HOST", "0.0.0.0"),
			Port:            env.integer("SERVER_PORT", 5000),
			ReadTimeout:     env.duration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:    env.duration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: env.duration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Rate: RateLimitConfig{
			Requests:       env.integer("RATE_LIMIT_REQUESTS", 5),
			Window:         env.duration("RATE_LIMIT_WINDOW", 60*time.Second),
			Backend:        strings.ToLower(env.str("RATE_LIMIT_BACKEND", BackendMemory)),
			SweepInterval:  env.duration("RATE_LIMIT_SWEEP_INTERVAL", 0),
			TrustProxy:     env.boolean("RATE_LIMIT_TRUST_PROXY", false),
			APIKeyHeader:   env.str("RATE_LIMIT_API_KEY_HEADER", ""),
			TrustedProxies: env.list("RATE_LIMIT_TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			Host:            env.str("DB_HOST", "localhost"),
			Port:            env.integer("DB_PORT", 5432),
			User:            env.str("DB_USER", "ratelimiter"),
			Password:        env.str("DB_PASSWORD", ""),
			DBName:          env.str("DB_NAME", "ratelimiter"),
			SSLMode:         env.str("DB_SSLMODE", "disable"),
			MaxOpenConns:    env.integer("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.integer("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:      env.str("REDIS_HOST", "localhost"),
			Port:      env.integer("REDIS_PORT", 6379),
			Password:  env.str("REDIS_PASSWORD", ""),
			DB:        env.integer("REDIS_DB", 0),
			PoolSize:  env.integer("REDIS_POOL_SIZE", 10),
			KeyPrefix: env.str("REDIS_KEY_PREFIX", "ratelimit:"),
		},
		Audit: AuditConfig{
			FlushInterval: env.duration("AUDIT_FLUSH_INTERVAL", 10*time.Second),
			BatchSize:     env.integer("AUDIT_BATCH_SIZE", 100),
		},
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Rate.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseEnabled returns true if database configuration is provided.
// The rejection audit runs only when it is.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != "" && c.Database.Password != ""
}

// RedisEnabled returns true if the Redis history store is selected.
func (c *Config) RedisEnabled() bool {
	return c.Rate.Backend == BackendRedis && c.Redis.Host != ""
}

// envReader looks up variables, substituting defaults for unset ones and
// collecting parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

// duration accepts Go duration syntax or a bare number of seconds.
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

// list splits a comma separated variable, dropping empty items.
func (e *envReader) list(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
