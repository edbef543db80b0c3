package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOption configures a Redis cache.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix     string
	defaultTTL time.Duration
}

// WithPrefix is prepended verbatim to every key, e.g. "ches:owner:".
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// WithRedisDefaultTTL sets the TTL used when Set gets zero. Default one hour.
func WithRedisDefaultTTL(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.defaultTTL = d }
}

// Redis stores encoded values in Redis. The client is owned by the caller.
type Redis[V any] struct {
	client redis.UniversalClient
	codec  Marshaler[V]
	cfg    redisConfig
}

// NewRedis creates a Redis cache. A nil Marshaler means JSON.
func NewRedis[V any](client redis.UniversalClient, m Marshaler[V], opts ...RedisOption) *Redis[V] {
	cfg := redisConfig{defaultTTL: time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}
	if m == nil {
		m = JSON[V]{}
	}
	return &Redis[V]{client: client, codec: m, cfg: cfg}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	raw, err := r.client.Get(ctx, r.cfg.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		var zero V
		return zero, ErrNotFound
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return r.codec.Unmarshal(raw)
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := r.codec.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = r.cfg.defaultTTL
	}
	// go-redis treats zero expiration as persistent.
	return r.client.Set(ctx, r.cfg.prefix+key, raw, max(ttl, 0)).Err()
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.cfg.prefix+key).Err()
}

// Close does nothing; see pkg/redis.Shutdown for the client.
func (r *Redis[V]) Close() error { return nil }

var _ Cache[any] = (*Redis[any])(nil)
