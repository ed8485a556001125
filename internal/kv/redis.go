package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// #region redis-client

// RedisClient is the subset of *redis.Client the driver needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Close() error
}

// #endregion redis-client

// #region redis-store

// redisStore is the redis-backed driver.
type redisStore struct {
	client RedisClient
}

func newRedisStore(client RedisClient) *redisStore {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// #endregion redis-store
