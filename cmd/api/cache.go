package main

import (
	"context"
	"time"

	"github.com/zllovesuki/storecheckout/cache"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// newCache returns a Redis cache when rdb is set, otherwise an in-process one swept once per ttl
func newCache[V any](ctx context.Context, logger *zap.Logger, rdb redis.UniversalClient, prefix string, capacity int, ttl time.Duration) cache.Cache[V] {
	if rdb != nil {
		c, err := cache.NewRedis[V](rdb, logger, prefix, ttl)
		if err != nil {
			logger.Fatal("Cannot initialize Redis cache",
				zap.String("Prefix", prefix),
				zap.Error(err),
			)
		}
		return c
	}

	c := cache.NewMemory[V](capacity, ttl, nil)
	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.EvictExpired(); n > 0 {
					logger.Debug("Evicted expired cache entries",
						zap.String("Prefix", prefix),
						zap.Int("Count", n),
					)
				}
			}
		}
	}()
	return c
}
