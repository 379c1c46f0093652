package livecache

import (
	"context"
	"errors"
	"sync"
)

// EventKind is the change a push transport reports for a key.
// Every kind is handled the same way: the payload is never trusted and the key
// is refetched from the source of truth.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// KeyState is the per-key activity reported by State.
// Fetching and Mutating may both be true.
type KeyState struct {
	Fetching bool
	Mutating bool
}

// Idle reports whether nothing is in progress for the key.
func (s KeyState) Idle() bool { return !s.Fetching && !s.Mutating }

// Bridge turns server events into forced refetches.
type Bridge[V any] struct {
	fetcher *Fetcher[V]
	hooks   Hooks
	log     Logger

	mu    sync.RWMutex
	bound map[string]*binding[V]
}

type binding[V any] struct {
	loader Loader[V]
}

// NewBridge builds a Bridge that refetches through fetcher.
func NewBridge[V any](fetcher *Fetcher[V], hooks Hooks, log Logger) *Bridge[V] {
	return &Bridge[V]{
		fetcher: fetcher,
		hooks:   coalesce[Hooks](hooks, NopHooks{}),
		log:     coalesce[Logger](log, NopLogger{}),
		bound:   make(map[string]*binding[V]),
	}
}

// Bind registers the loader used for server events on key. It takes
// precedence over the fetcher's last loader. The returned function removes it.
func (b *Bridge[V]) Bind(key string, loader Loader[V]) (unbind func()) {
	bd := &binding[V]{loader: loader}
	b.mu.Lock()
	b.bound[key] = bd
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// a later Bind for the same key owns it now
			if b.bound[key] == bd {
				delete(b.bound, key)
			}
		})
	}
}

func (b *Bridge[V]) loaderFor(key string) (Loader[V], bool) {
	b.mu.RLock()
	bd, ok := b.bound[key]
	b.mu.RUnlock()
	if ok {
		return bd.loader, true
	}
	return b.fetcher.LoaderFor(key)
}

// OnServerEvent forces one refetch of key. Concurrent events and any fetch
// already in flight for key coalesce into a single loader call.
// It returns ErrNoLoader when nothing has ever fetched or bound key.
func (b *Bridge[V]) OnServerEvent(ctx context.Context, key string, kind EventKind) error {
	loader, ok := b.loaderFor(key)
	if !ok {
		b.log.Debug("server event for unknown key", Fields{"key": key, "kind": string(kind)})
		b.hooks.ServerEvent(key, kind, false)
		return ErrNoLoader
	}
	b.hooks.ServerEvent(key, kind, true)
	_, err := b.fetcher.getOrFetch(ctx, key, loader, fetchOptions{force: true}, false)
	var fe *FetchError
	if err != nil && !errors.As(err, &fe) {
		b.log.Debug("server event refetch abandoned", Fields{"key": key, "err": err})
	}
	return err
}
