// Package asynchook moves hook work off the cache's hot paths.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{JoinEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker, queue of 1000 events
//	defer hooks.Close()
//
//	carts := livecache.New[[]Item](livecache.Options[[]Item]{Name: "cart", Hooks: hooks})
//
// Events are dropped, not queued, when the queue is full. Dropped() reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/livecache"
)

type Hooks struct {
	inner   livecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed q
	closed  bool
	dropped atomic.Uint64
}

var _ livecache.Hooks = (*Hooks)(nil)

func New(inner livecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events discarded because the queue was full
// or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k string, forced bool) { h.try(func() { h.inner.FetchStarted(k, forced) }) }
func (h *Hooks) FetchJoined(k string)               { h.try(func() { h.inner.FetchJoined(k) }) }
func (h *Hooks) FetchFailed(k string, err error)    { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) MutationCommitted(k string, reconciled bool) {
	h.try(func() { h.inner.MutationCommitted(k, reconciled) })
}
func (h *Hooks) MutationReverted(k string, err error) {
	h.try(func() { h.inner.MutationReverted(k, err) })
}
func (h *Hooks) ServerEvent(k string, kind livecache.EventKind, handled bool) {
	h.try(func() { h.inner.ServerEvent(k, kind, handled) })
}
func (h *Hooks) ListenerPanic(k string, r any) { h.try(func() { h.inner.ListenerPanic(k, r) }) }
