// Package cache defines the port interface for byte-oriented key-value caching.
// The classifier uses it to remember route decisions for repeated tickets.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A miss is (nil, false, nil).
// Keys are restricted to [A-Za-z0-9_.-] so every backend can store them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
