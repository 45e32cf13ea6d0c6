// Package cache holds the TTL key/value backends used for route memoization.
package cache

import (
	"context"
	"time"
)

// Entry is a cached value and the time it was stored.
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// Age is how long ago the entry was stored, never negative.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.StoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// Backend is a TTL store. Get never returns an entry whose TTL has elapsed.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
