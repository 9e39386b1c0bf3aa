package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface used for read-through caching.
type Cache interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Locker provides token-guarded mutual exclusion.
// A lock can only be released or extended by the holder of its token.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	// ExtendLock returns false when the lock is no longer held by token.
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// Store combines Cache and Locker as implemented by RedisCache.
type Store interface {
	Cache
	Locker
}
