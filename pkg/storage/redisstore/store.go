// Package redisstore implements storage.CounterStore on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

var tracer = otel.Tracer("tally/storage/redis")

const scanBatch = 100

// Store is a Redis backed storage.CounterStore
type Store struct {
	client  *redis.Client
	timeout time.Duration
	metrics *observability.Metrics
}

var _ storage.CounterStore = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithTimeout bounds every store call. Zero disables the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithMetrics records command latency on the given metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewClient creates a Redis client from config and verifies connectivity
func NewClient(cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Open connects to Redis and wraps the client in a Store
func Open(cfg storage.Config, opts ...Option) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithTimeout(cfg.RedisOpTimeout)}, opts...)
	return New(client, opts...), nil
}

// New wraps an existing client
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, timeout: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client for callers that need scripting
func (s *Store) Client() *redis.Client {
	return s.client
}

// op starts a span and applies the per-call timeout
func (s *Store) op(ctx context.Context, name, key string) (context.Context, trace.Span, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Redis."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", name),
			attribute.String("redis.key", key),
		),
	)

	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	return ctx, span, func(err error) {
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.metrics != nil {
			s.metrics.CounterStoreDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
}

// IncrByWithTTL increments a counter and refreshes its expiry in one MULTI/EXEC
func (s *Store) IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (n int64, err error) {
	ctx, _, done := s.op(ctx, "IncrBy", key)
	defer func() { done(err) }()

	var incr *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, delta)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return incr.Val(), nil
}

// AddToSetWithTTL adds members and refreshes the set expiry in one MULTI/EXEC
func (s *Store) AddToSetWithTTL(ctx context.Context, key string, ttl time.Duration, members ...string) (err error) {
	if len(members) == 0 {
		return nil
	}
	ctx, _, done := s.op(ctx, "SAdd", key)
	defer func() { done(err) }()

	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, args...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return unavailable(err)
}

// SetSize returns the set cardinality
func (s *Store) SetSize(ctx context.Context, key string) (n int64, err error) {
	ctx, _, done := s.op(ctx, "SCard", key)
	defer func() { done(err) }()

	n, err = s.client.SCard(ctx, key).Result()
	return n, unavailable(err)
}

// GetInt returns a counter value, 0 when the key is absent
func (s *Store) GetInt(ctx context.Context, key string) (n int64, err error) {
	ctx, _, done := s.op(ctx, "GetInt", key)
	defer func() { done(err) }()

	n, err = s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, unavailable(err)
}

// Get returns the raw value or nil on a miss
func (s *Store) Get(ctx context.Context, key string) (b []byte, err error) {
	ctx, _, done := s.op(ctx, "Get", key)
	defer func() { done(err) }()

	b, err = s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return b, nil
}

// Set stores value with a TTL
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	ctx, _, done := s.op(ctx, "Set", key)
	defer func() { done(err) }()

	return unavailable(s.client.Set(ctx, key, value, ttl).Err())
}

// Delete removes keys
func (s *Store) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, _, done := s.op(ctx, "Del", keys[0])
	defer func() { done(err) }()

	return unavailable(s.client.Del(ctx, keys...).Err())
}

// DeletePattern removes keys matching a glob using SCAN, never KEYS.
// The per-call timeout is not applied so large keyspaces can finish.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (deleted int64, err error) {
	ctx, span := tracer.Start(ctx, "Redis.DeletePattern",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("redis.pattern", pattern)),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.deleted", deleted))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err = flush(); err != nil {
				return deleted, unavailable(err)
			}
		}
	}
	if err = iter.Err(); err != nil {
		return deleted, unavailable(fmt.Errorf("scan failed for pattern %s: %w", pattern, err))
	}
	if err = flush(); err != nil {
		return deleted, unavailable(err)
	}
	return deleted, nil
}

// Ping checks Redis connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// PoolStats returns connection pool statistics
func (s *Store) PoolStats() *redis.PoolStats {
	return s.client.PoolStats()
}
