package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker grants short-lived exclusive locks by key.
type Locker interface {
	// TryLock attempts to take the lock for ttl without waiting.
	// ok is false when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker storing keys under prefix.
func NewLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis: unlock %s: %w", fullKey, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return unlock, true, nil
}

// NopLocker always grants the lock. Used when Redis is not configured.
type NopLocker struct{}

// TryLock implements Locker.
func (NopLocker) TryLock(context.Context, string, time.Duration) (Unlock, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
