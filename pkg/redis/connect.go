package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// dialer is a parsed connection URL plus startup retry settings.
type dialer struct {
	client   *redis.Options
	attempts int
	backoff  time.Duration
}

// Option adjusts the client before the first connection attempt.
type Option func(*dialer)

// WithPoolSize caps open connections. Default 10.
func WithPoolSize(n int) Option {
	return func(d *dialer) { d.client.PoolSize = n }
}

// WithMinIdleConns keeps n idle connections warm. Default 2.
func WithMinIdleConns(n int) Option {
	return func(d *dialer) { d.client.MinIdleConns = n }
}

// WithRetry sets startup attempts; attempt i waits i*backoff before the next.
// Default 3 attempts, 2s.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *dialer) { d.attempts, d.backoff = attempts, backoff }
}

// WithTimeouts overrides dial, read and write timeouts; zero keeps the
// current value (5s, 3s, 3s).
func WithTimeouts(dial, read, write time.Duration) Option {
	return func(d *dialer) {
		for dst, v := range map[*time.Duration]time.Duration{
			&d.client.DialTimeout:  dial,
			&d.client.ReadTimeout:  read,
			&d.client.WriteTimeout: write,
		} {
			if v > 0 {
				*dst = v
			}
		}
	}
}

func newDialer(client *redis.Options, opts ...Option) *dialer {
	client.PoolSize = 10
	client.MinIdleConns = 2
	client.DialTimeout = 5 * time.Second
	client.ReadTimeout = 3 * time.Second
	client.WriteTimeout = 3 * time.Second

	d := &dialer{client: client, attempts: 3, backoff: 2 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	d.attempts = max(d.attempts, 1)
	return d
}

// Open parses a redis:// or rediss:// URL and returns a client once it
// answers PING.
//
//	client, err := redis.Open(ctx, cfg.Redis.URL, redis.WithRetry(5, time.Second))
func Open(ctx context.Context, url string, opts ...Option) (redis.UniversalClient, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, ErrFailedToParseURL
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}
	return newDialer(parsed, opts...).dial(ctx)
}

func (d *dialer) dial(ctx context.Context) (redis.UniversalClient, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(d.client)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == d.attempts {
			return nil, errors.Join(ErrConnectionFailed, lastErr)
		}
		if err := wait(ctx, time.Duration(attempt)*d.backoff); err != nil {
			return nil, errors.Join(ErrConnectionFailed, err)
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
