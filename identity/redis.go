package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionSetKey tracks session-scoped keys so EndSession can drop them.
const sessionSetKey = "opix:session-keys"

// RedisStore implements [Store] on a shared Redis instance.
//
// Useful when several service replicas track on behalf of the same visitors.
// Expiring entries use native key TTLs; session entries are recorded in a
// set and removed together by [RedisStore.EndSession].
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store backed by Redis at addr.
// Keys are namespaced with prefix, which may be empty.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the value for key, or [ErrNotFound].
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores value. ttl <= 0 stores a session entry.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	full := s.key(key)
	if ttl > 0 {
		if err := s.client.Set(ctx, full, value, ttl).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
		if err := s.client.SRem(ctx, s.key(sessionSetKey), full).Err(); err != nil {
			return fmt.Errorf("redis srem: %w", err)
		}
		return nil
	}

	if err := s.client.Set(ctx, full, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := s.client.SAdd(ctx, s.key(sessionSetKey), full).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	full := s.key(key)
	if err := s.client.Del(ctx, full).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return s.client.SRem(ctx, s.key(sessionSetKey), full).Err()
}

// EndSession deletes every key registered as session-scoped.
func (s *RedisStore) EndSession(ctx context.Context) error {
	keys, err := s.client.SMembers(ctx, s.key(sessionSetKey)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	keys = append(keys, s.key(sessionSetKey))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
