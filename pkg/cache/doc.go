// Package cache holds the lookup caches used in front of the database,
// chiefly the message owner cache consulted on every status read and
// cancellation.
//
// [Memory] is an LRU map with per-entry expiry for single-process
// deployments. [Redis] shares entries between replicas. [GetOrSet] reads
// through either one and collapses concurrent misses:
//
//	owner, err := cache.GetOrSet(ctx, owners, msgID, func(ctx context.Context) (string, time.Duration, error) {
//		client, err := store.MessageClient(ctx, msgID)
//		return client, time.Hour, err
//	})
package cache
