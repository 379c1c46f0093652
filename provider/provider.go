// Package provider defines the byte store behind the tier package.
//
// A provider holds framed loader results so a process that just started, or a
// sibling process sharing the same Redis, can answer a fetch without hitting the
// backend. Implementations must be byte-for-byte transparent: Get returns exactly
// the bytes passed to Set.
//
// The keyspace "tier:<namespace>:" is owned by livecache. Foreign writes under that
// prefix fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl (<= 0 means no expiry where supported). cost is a
	// hint for admission-based stores. ok=false means the write was dropped.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
