package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps failures talking to the counter store
var ErrStoreUnavailable = errors.New("counter store unavailable")

// CounterStore is the key-value contract shared by the rolling counters and
// the summary cache. Counter and set updates refresh the key expiry atomically
// with the write.
type CounterStore interface {
	// IncrByWithTTL adds delta to an integer counter and (re)sets its expiry
	IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// AddToSetWithTTL adds members to a set and (re)sets its expiry
	AddToSetWithTTL(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SetSize returns the cardinality of a set, 0 when absent
	SetSize(ctx context.Context, key string) (int64, error)
	// GetInt returns an integer counter, 0 when absent
	GetInt(ctx context.Context, key string) (int64, error)

	// Get returns nil, nil on a miss
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a glob pattern and returns how many were removed
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
