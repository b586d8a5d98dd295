package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emadnahed/ratelimiter/internal/config"
	"github.com/emadnahed/ratelimiter/internal/testutil"
)

func TestOptions(t *testing.T) {
	t.Run("maps config fields", func(t *testing.T) {
		opts := Options(&config.RedisConfig{
			Host:     "redis.internal",
			Port:     6380,
			Password: "secret",
			DB:       2,
			PoolSize: 25,
		})

		assert.Equal(t, "redis.internal:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 25, opts.PoolSize)
	})

	t.Run("brackets IPv6 hosts", func(t *testing.T) {
		opts := Options(&config.RedisConfig{Host: "::1", Port: 6379})

		assert.Equal(t, "[::1]:6379", opts.Addr)
		assert.Zero(t, opts.PoolSize)
	})
}

func TestNewRedisClient(t *testing.T) {
	testutil.SkipIfNoRedis(t)

	ctx := context.Background()
	client, err := NewRedisClient(ctx, &config.RedisConfig{
		Host:     testutil.EnvOrDefault("REDIS_HOST", "localhost"),
		Port:     6379,
		Password: testutil.EnvOrDefault("REDIS_PASSWORD", ""),
		PoolSize: 5,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(ctx).Err())
}

func TestNewRedisClient_InvalidHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, &config.RedisConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     6379,
		PoolSize: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
