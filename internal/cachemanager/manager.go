// Package cachemanager provides a small generic cache abstraction used to
// memoize registry metadata lookups within and across sync runs in watch mode.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is the storage side of the cache.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Flush(ctx context.Context)
}
