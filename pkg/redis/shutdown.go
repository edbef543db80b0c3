package redis

import (
	"context"
	"io"
)

// Shutdown returns a function that closes the Redis client.
// Matches the shutdown hook signature used by the server runtime.
func Shutdown(client io.Closer) func(ctx context.Context) error {
	return func(context.Context) error {
		return client.Close()
	}
}
