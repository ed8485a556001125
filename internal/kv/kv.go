// Package kv defines the persistent key-value contract this core uses for
// profiles and durable snapshots. The storage engine itself is an external
// collaborator; only get/put/delete semantics are defined here.
package kv

import (
	"context"
	"errors"
)

// #region errors

// ErrInvalidConfig reports a driver constructed without its required options.
var ErrInvalidConfig = errors.New("kv: invalid store configuration")

// #endregion errors

// #region store

// Store is the key-value access contract.
type Store interface {
	// Get retrieves a value. Returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value, overwriting any existing one.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases driver resources.
	Close() error
}

// #endregion store

// #region factory

// StoreType selects a driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

type storeConfig struct {
	redisClient RedisClient
}

// StoreOption configures driver construction.
type StoreOption func(*storeConfig)

// WithRedisClient supplies the redis connection for the redis driver.
func WithRedisClient(c RedisClient) StoreOption {
	return func(cfg *storeConfig) { cfg.redisClient = c }
}

// NewStore creates a Store for the given driver type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg.redisClient), nil
	default:
		return nil, ErrInvalidConfig
	}
}

// #endregion factory
