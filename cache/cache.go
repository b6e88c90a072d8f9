// Package cache holds the TTL caches used in front of slow collaborator reads
package cache

import "time"

// Cache stores values for a bounded time. A miss is never an error.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
	// EvictExpired drops every expired entry and returns how many were dropped
	EvictExpired() int
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time
