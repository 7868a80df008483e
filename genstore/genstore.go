// Package genstore keeps one generation counter per slot key.
//
// rtcache snapshots the generation before a fetch and writes the result only
// if the generation is unchanged; Clear (sign-out, manual reset) bumps every
// slot so results still in flight are dropped.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// LocalGenStore is the default; RedisGenStore shares generations across
// processes that share a Redis provider namespace.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// BumpMany increments every key; used to invalidate all slots at once.
	BumpMany(ctx context.Context, storageKeys []string) error
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
