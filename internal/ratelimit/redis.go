package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// listReader is satisfied by both *redis.Client and *redis.Tx.
type listReader interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// ErrStoreContention is returned when an optimistic Redis transaction keeps
// losing to concurrent writers.
var ErrStoreContention = errors.New("history store contention")

// defaultUpdateRetries bounds WATCH retries per update.
const defaultUpdateRetries = 10

// RedisStore is a HistoryStore shared by several processes. Each identifier
// is a Redis list of UnixNano timestamps that expires one window after its
// last write, so idle identifiers need no sweeping.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	retries   int
}

var (
	_ HistoryStore = (*RedisStore)(nil)
	_ Updater      = (*RedisStore)(nil)
)

// NewRedisStore creates a Redis-backed history store. ttl should be the
// limiter window.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		retries:   defaultUpdateRetries,
	}
}

// Get returns the identifier's log.
func (s *RedisStore) Get(ctx context.Context, identifier string) ([]time.Time, error) {
	return s.read(ctx, s.client, s.key(identifier))
}

// Replace overwrites the identifier's log in a single MULTI/EXEC.
func (s *RedisStore) Replace(ctx context.Context, identifier string, log []time.Time) error {
	key := s.key(identifier)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, key, log)
		return nil
	})
	if err != nil {
		return fmt.Errorf("history replace failed: %w", err)
	}
	return nil
}

// Delete removes the identifier's log.
func (s *RedisStore) Delete(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, s.key(identifier)).Err(); err != nil {
		return fmt.Errorf("history delete failed: %w", err)
	}
	return nil
}

// Update runs fn on the identifier's log under WATCH and writes the result
// back only if no other client changed the key meanwhile. fn may run more
// than once.
func (s *RedisStore) Update(ctx context.Context, identifier string, fn func(log []time.Time) []time.Time) error {
	key := s.key(identifier)

	txf := func(tx *redis.Tx) error {
		log, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		next := fn(log)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, key, next)
			return nil
		})
		return err
	}

	for i := 0; i < s.retries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("history update failed: %w", err)
	}
	return ErrStoreContention
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) read(ctx context.Context, c listReader, key string) ([]time.Time, error) {
	vals, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history get failed: %w", err)
	}

	log := make([]time.Time, 0, len(vals))
	for _, v := range vals {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt history entry %q: %w", v, err)
		}
		log = append(log, time.Unix(0, ns))
	}
	return log, nil
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, key string, log []time.Time) {
	pipe.Del(ctx, key)
	if len(log) == 0 {
		return
	}

	vals := make([]interface{}, len(log))
	for i, ts := range log {
		vals[i] = strconv.FormatInt(ts.UnixNano(), 10)
	}
	pipe.RPush(ctx, key, vals...)
	pipe.PExpire(ctx, key, s.ttl)
}

func (s *RedisStore) key(identifier string) string {
	return s.keyPrefix + identifier
}
