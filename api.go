package livecache

import (
	"context"
	"time"
)

// Cache is the consumer-facing API: snapshot reads and writes, listeners,
// deduplicated fetches, optimistic mutations and server events for one
// resource type. Construct one per resource type at startup and share it.
type Cache[V any] interface {
	// Snapshot store
	Has(key string) bool
	Get(key string) (V, bool)
	Lookup(key string) Snapshot[V]
	Peek(key string) (Snapshot[V], bool)
	Set(key string, value V)
	Update(key string, fn func(cur V, ok bool) V) V
	Subscribe(key string, fn Listener[V]) (unsubscribe func())

	// Fetching
	GetOrFetch(ctx context.Context, key string, loader Loader[V], opts ...FetchOption) (V, error)

	// Optimistic mutation
	Mutate(ctx context.Context, m Mutation[V]) error

	// Realtime
	OnServerEvent(ctx context.Context, key string, kind EventKind) error
	Bind(key string, loader Loader[V]) (unbind func())

	State(key string) KeyState
	Keys() []string
	Close(context.Context) error
}

// Options tune a Cache. Every field is optional.
type Options[V any] struct {
	Name            string        // label used in logs; e.g. "cart", "products"
	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	FetchTimeout    time.Duration // 0 => loaders run until they return
	MutationTimeout time.Duration // 0 => remote operations run until they return
	Clock           func() time.Time
}

func New[V any](opts Options[V]) Cache[V] {
	return newCache[V](opts)
}
