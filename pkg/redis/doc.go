// Package redis wraps [github.com/redis/go-redis/v9] with connection retry,
// health checks, shutdown hooks and a small exclusive lock.
//
// [Open] parses a redis:// or rediss:// URL, applies pool and timeout options
// and retries PING a bounded number of times before giving up:
//
//	client, err := redis.Open(ctx, "redis://localhost:6379/0",
//	    redis.WithPoolSize(20),
//	    redis.WithRetry(5, time.Second),
//	)
//
// [Healthcheck] and [Shutdown] return closures that plug into the health
// endpoints and the server's shutdown hooks.
//
// [RedisLocker] hands out per-key locks with SET NX and a TTL; the returned
// [Unlock] only deletes the key while it still carries the caller's token, so
// an expired lock re-acquired by someone else is never released by mistake.
// [NopLocker] is the single-process fallback.
package redis
