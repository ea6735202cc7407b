// Package store defines the key-value storage backend shared by the
// admission controller, the liveness signal, and the conversation repo.
//
// The Redis implementation is the production backend. The in-memory
// implementation is suitable for tests and single-instance development.
package store

import (
	"context"
	"time"
)

// Store is the persistent counter/record store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically increments the counter for the given key,
	// sets or refreshes its expiry to the given absolute time, and
	// returns the post-increment count. The increment and the read of
	// the new value are a single atomic operation; callers rely on this
	// for admission-control correctness under concurrency.
	Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error)

	// Set writes a record under the given key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads the record under the given key.
	// Returns found=false if the key does not exist or has expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes the record under the given key.
	Delete(ctx context.Context, key string) error

	// IndexAdd adds a member to a sorted index with the given score,
	// updating the score if the member is already present.
	IndexAdd(ctx context.Context, index, member string, score float64) error

	// IndexRemove removes a member from a sorted index.
	IndexRemove(ctx context.Context, index, member string) error

	// IndexScan returns up to limit members of a sorted index in
	// descending score order.
	IndexScan(ctx context.Context, index string, limit int64) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
