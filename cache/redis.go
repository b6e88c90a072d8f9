package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Redis is a Cache shared between instances. Values are stored as JSON.
type Redis[V any] struct {
	client redis.UniversalClient
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

var _ Cache[int] = &Redis[int]{}

// NewRedis returns a Redis cache whose keys are prefixed with prefix
func NewRedis[V any](client redis.UniversalClient, logger *zap.Logger, prefix string, ttl time.Duration) (*Redis[V], error) {
	if client == nil {
		return nil, fmt.Errorf("nil redisClient is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	return &Redis[V]{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Get returns the value stored at key; Redis errors count as a miss
func (r *Redis[V]) Get(key string) (V, bool) {
	var value V
	raw, err := r.client.Get(r.prefix + key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Error("Cannot read from cache",
				zap.String("Key", key),
				zap.Error(err),
			)
		}
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		r.logger.Error("Cannot decode cached value",
			zap.String("Key", key),
			zap.Error(err),
		)
		return value, false
	}
	return value, true
}

// Set stores value at key with the cache TTL
func (r *Redis[V]) Set(key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("Cannot encode value for cache",
			zap.String("Key", key),
			zap.Error(err),
		)
		return
	}
	if err := r.client.Set(r.prefix+key, raw, r.ttl).Err(); err != nil {
		r.logger.Error("Cannot write to cache",
			zap.String("Key", key),
			zap.Error(err),
		)
	}
}

// Delete drops key
func (r *Redis[V]) Delete(key string) {
	if err := r.client.Del(r.prefix + key).Err(); err != nil {
		r.logger.Error("Cannot delete from cache",
			zap.String("Key", key),
			zap.Error(err),
		)
	}
}

// EvictExpired is a no-op: Redis expires keys on its own
func (r *Redis[V]) EvictExpired() int {
	return 0
}
