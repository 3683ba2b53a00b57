package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxUpdateAttempts = 100
	updateBackoffBase = 2 * time.Millisecond
	updateBackoffMax  = 50 * time.Millisecond
)

// incrementScript starts the window on the first hit and reports the
// remaining ttl in milliseconds so the caller can compute resetAt.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares tracker state between service instances. Redis expires
// keys on its own, so no sweeper is needed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions mirrors the connection settings read from config.
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected - %s:%s DB:%d", opts.Host, opts.Port, opts.DB)
	return client, nil
}

// NewRedisStore namespaces every key with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	result, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(result) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis increment %s: unexpected reply %v", key, result)
	}

	resetAt := time.Now().Add(time.Duration(result[1]) * time.Millisecond)
	return result[0], resetAt, nil
}

// Update uses optimistic locking (WATCH/MULTI). When another writer touched
// the key between the read and the write it retries after a jittered
// backoff, so contending writers spread out instead of colliding again.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	fullKey := s.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		exists := true
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return err
			}
			exists = false
			current = nil
		}

		next, ttl, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
				return nil
			}
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis update %s: %w", key, err)
		}

		timer := time.NewTimer(updateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis update %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
	return ErrConflict
}

// updateBackoff returns a full-jitter delay for the given retry.
func updateBackoff(attempt int) time.Duration {
	backoff := updateBackoffBase << min(attempt, 5)
	if backoff > updateBackoffMax {
		backoff = updateBackoffMax
	}
	return time.Duration(rand.Int64N(int64(backoff)))
}
