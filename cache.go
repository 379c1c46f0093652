package livecache

import (
	"context"
	"sync/atomic"
)

type cache[V any] struct {
	name    string
	log     Logger
	store   *Store[V]
	fetcher *Fetcher[V]
	mutator *Mutator[V]
	bridge  *Bridge[V]
	closed  atomic.Bool
}

var _ Cache[struct{}] = (*cache[struct{}])(nil)

func newCache[V any](opts Options[V]) *cache[V] {
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	log := coalesce[Logger](opts.Logger, NopLogger{})
	if opts.Name != "" {
		log = namedLogger{inner: log, name: opts.Name}
	}

	store := NewStore[V](opts.Clock, hooks, log)
	fetcher := NewFetcher(store, opts.FetchTimeout, hooks, log)
	return &cache[V]{
		name:    opts.Name,
		log:     log,
		store:   store,
		fetcher: fetcher,
		mutator: NewMutator(store, fetcher, opts.MutationTimeout, hooks, log),
		bridge:  NewBridge(fetcher, hooks, log),
	}
}

func (c *cache[V]) Has(key string) bool                 { return c.store.Has(key) }
func (c *cache[V]) Get(key string) (V, bool)            { return c.store.Get(key) }
func (c *cache[V]) Lookup(key string) Snapshot[V]       { return c.store.Lookup(key) }
func (c *cache[V]) Peek(key string) (Snapshot[V], bool) { return c.store.Peek(key) }
func (c *cache[V]) Set(key string, value V)             { c.store.Set(key, value) }
func (c *cache[V]) Keys() []string                      { return c.store.Keys() }
func (c *cache[V]) Bind(key string, l Loader[V]) func() { return c.bridge.Bind(key, l) }

func (c *cache[V]) Update(key string, fn func(cur V, ok bool) V) V {
	return c.store.Update(key, fn)
}

func (c *cache[V]) Subscribe(key string, fn Listener[V]) func() {
	return c.store.Subscribe(key, fn)
}

func (c *cache[V]) GetOrFetch(ctx context.Context, key string, loader Loader[V], opts ...FetchOption) (V, error) {
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}
	return c.fetcher.GetOrFetch(ctx, key, loader, opts...)
}

func (c *cache[V]) Mutate(ctx context.Context, m Mutation[V]) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.mutator.Mutate(ctx, m)
}

func (c *cache[V]) OnServerEvent(ctx context.Context, key string, kind EventKind) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.bridge.OnServerEvent(ctx, key, kind)
}

func (c *cache[V]) State(key string) KeyState {
	return KeyState{
		Fetching: c.fetcher.InFlight(key),
		Mutating: c.mutator.Pending(key) > 0,
	}
}

// Close stops new fetches, mutations and events. Work already in flight
// finishes and still lands in the store; snapshots stay readable.
func (c *cache[V]) Close(context.Context) error {
	if c.closed.CompareAndSwap(false, true) {
		c.log.Debug("cache closed", Fields{"keys": c.store.Len()})
	}
	return nil
}

// namedLogger tags every record with the cache name.
type namedLogger struct {
	inner Logger
	name  string
}

func (l namedLogger) with(f Fields) Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["cache"] = l.name
	return out
}

func (l namedLogger) Debug(msg string, f Fields) { l.inner.Debug(msg, l.with(f)) }
func (l namedLogger) Info(msg string, f Fields)  { l.inner.Info(msg, l.with(f)) }
func (l namedLogger) Warn(msg string, f Fields)  { l.inner.Warn(msg, l.with(f)) }
func (l namedLogger) Error(msg string, f Fields) { l.inner.Error(msg, l.with(f)) }
