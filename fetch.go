package livecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader performs a remote read for one key.
type Loader[V any] func(ctx context.Context) (V, error)

type fetchOptions struct {
	force bool
}

// FetchOption tunes a single GetOrFetch call.
type FetchOption func(*fetchOptions)

// WithForceRefresh runs the loader even when the key already holds a value.
// The result replaces the cached value only on success.
func WithForceRefresh() FetchOption {
	return func(o *fetchOptions) { o.force = true }
}

type forcedKey struct{}

// IsForced reports whether ctx belongs to a loader run started by a forced
// refresh. Loader decorators use it to bypass their own read caches.
func IsForced(ctx context.Context) bool {
	v, _ := ctx.Value(forcedKey{}).(bool)
	return v
}

// Fetcher guarantees at most one loader execution in flight per key.
// Every caller waiting on a key receives the result of that one execution.
type Fetcher[V any] struct {
	store   *Store[V]
	log     Logger
	hooks   Hooks
	timeout time.Duration

	sf singleflight.Group
	// seq numbers loader runs in start order across all keys.
	seq atomic.Uint64

	mu      sync.Mutex
	waiters map[string]int // key -> callers blocked on a fetch
	running map[string]bool
	loaders map[string]Loader[V]
}

// NewFetcher builds a Fetcher that writes successful loads into store.
func NewFetcher[V any](store *Store[V], timeout time.Duration, hooks Hooks, log Logger) *Fetcher[V] {
	return &Fetcher[V]{
		store:   store,
		log:     coalesce[Logger](log, NopLogger{}),
		hooks:   coalesce[Hooks](hooks, NopHooks{}),
		timeout: timeout,
		waiters: make(map[string]int),
		running: make(map[string]bool),
		loaders: make(map[string]Loader[V]),
	}
}

// GetOrFetch returns the cached value for key, or runs loader to obtain it.
//
//   - Without WithForceRefresh a cached value is returned immediately.
//   - A fetch already in flight for key is joined, forced or not.
//   - On success the value is written to the store once and returned to all waiters.
//   - On failure the store is untouched and all waiters get the same *FetchError.
//
// The loader runs detached from ctx: a caller whose ctx ends gets ctx.Err()
// while the shared fetch keeps going for everyone else.
func (f *Fetcher[V]) GetOrFetch(ctx context.Context, key string, loader Loader[V], opts ...FetchOption) (V, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return f.getOrFetch(ctx, key, loader, o, true)
}

// fetched is the shared result of one loader run.
type fetched[V any] struct {
	val V
	seq uint64
}

// mark returns a sequence number; runs started later get a larger one.
func (f *Fetcher[V]) mark() uint64 { return f.seq.Load() }

// refreshAfter force-refreshes key with a loader run that started after mark.
// A joined run that started earlier may have read the source before a write
// that mark orders after, so its result is not enough: once it settles the
// loader runs again.
func (f *Fetcher[V]) refreshAfter(ctx context.Context, key string, loader Loader[V], mark uint64) (V, error) {
	for {
		v, seq, err := f.do(ctx, key, loader, fetchOptions{force: true}, false)
		if err != nil || seq > mark {
			return v, err
		}
		f.log.Debug("joined fetch predates write; refetching", Fields{"key": key})
	}
}

// getOrFetch is GetOrFetch; remember controls whether loader becomes the key's
// loader for later server events.
func (f *Fetcher[V]) getOrFetch(ctx context.Context, key string, loader Loader[V], o fetchOptions, remember bool) (V, error) {
	if !o.force {
		if v, ok := f.store.Get(key); ok {
			return v, nil
		}
	}
	v, _, err := f.do(ctx, key, loader, o, remember)
	return v, err
}

// do joins or starts a loader run and reports the run's start sequence.
func (f *Fetcher[V]) do(ctx context.Context, key string, loader Loader[V], o fetchOptions, remember bool) (V, uint64, error) {
	if loader == nil {
		var zero V
		return zero, 0, fmt.Errorf("livecache: nil loader for %q", key)
	}
	if remember {
		f.remember(key, loader)
	}

	f.mu.Lock()
	joined := f.running[key]
	f.waiters[key]++
	f.mu.Unlock()
	defer f.leave(key)
	if joined {
		f.hooks.FetchJoined(key)
	}

	ch := f.sf.DoChan(key, func() (any, error) {
		return f.run(ctx, key, loader, o.force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, 0, res.Err
		}
		if res.Shared {
			f.log.Debug("fetch shared", Fields{"key": key})
		}
		r, _ := res.Val.(fetched[V])
		return r.val, r.seq, nil
	case <-ctx.Done():
		var zero V
		return zero, 0, ctx.Err()
	}
}

// run executes the loader once for all current waiters of key.
func (f *Fetcher[V]) run(ctx context.Context, key string, loader Loader[V], forced bool) (v any, err error) {
	f.setRunning(key, true)
	defer f.setRunning(key, false)
	seq := f.seq.Add(1)
	f.hooks.FetchStarted(key, forced)
	lctx, cancel := detached(ctx, f.timeout)
	defer cancel()
	if forced {
		lctx = context.WithValue(lctx, forcedKey{}, true)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &FetchError{Key: key, Err: fmt.Errorf("loader panic: %v", r)}
			v = nil
			f.hooks.FetchFailed(key, err)
		}
	}()

	val, lerr := loader(lctx)
	if lerr != nil {
		f.log.Warn("fetch failed", Fields{"key": key, "forced": forced, "err": lerr})
		f.hooks.FetchFailed(key, lerr)
		return nil, &FetchError{Key: key, Err: lerr}
	}
	f.store.Set(key, val)
	return fetched[V]{val: val, seq: seq}, nil
}

func (f *Fetcher[V]) leave(key string) {
	f.mu.Lock()
	if n := f.waiters[key] - 1; n > 0 {
		f.waiters[key] = n
	} else {
		delete(f.waiters, key)
	}
	f.mu.Unlock()
}

func (f *Fetcher[V]) setRunning(key string, on bool) {
	f.mu.Lock()
	if on {
		f.running[key] = true
	} else {
		delete(f.running, key)
	}
	f.mu.Unlock()
}

func (f *Fetcher[V]) remember(key string, loader Loader[V]) {
	f.mu.Lock()
	f.loaders[key] = loader
	f.mu.Unlock()
}

// LoaderFor returns the most recent loader used for key.
func (f *Fetcher[V]) LoaderFor(key string) (Loader[V], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loaders[key]
	return l, ok
}

// InFlight reports whether a loader for key is executing right now.
func (f *Fetcher[V]) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[key]
}

// Waiters returns the number of callers currently blocked on a fetch for key.
func (f *Fetcher[V]) Waiters(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiters[key]
}
