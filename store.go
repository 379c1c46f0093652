package livecache

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Listener receives every write to the key it is subscribed to.
// ok is false when the key was restored to "no value" by a rollback.
type Listener[V any] func(v V, ok bool)

// Snapshot is a point-in-time view of one entry.
type Snapshot[V any] struct {
	Key       string
	Value     V
	OK        bool
	Version   uint64 // incremented on every write
	UpdatedAt time.Time
}

type subscription[V any] struct {
	fn     Listener[V]
	active atomic.Bool

	// mu is held from the active check until fn returns.
	mu     sync.Mutex
	inCall atomic.Bool
}

// dispose stops deliveries. A delivery that has not reached fn yet is waited
// for so it sees active == false; one already inside fn (possibly the caller
// itself) is left to finish.
func (sub *subscription[V]) dispose() {
	for {
		if sub.mu.TryLock() {
			sub.active.Store(false)
			sub.mu.Unlock()
			return
		}
		if sub.inCall.Load() {
			sub.active.Store(false)
			return
		}
		runtime.Gosched()
	}
}

type notice[V any] struct {
	value V
	ok    bool
	subs  []*subscription[V]
}

type entry[V any] struct {
	value     V
	ok        bool
	version   uint64
	updatedAt time.Time

	subs []*subscription[V] // subscription order

	// pending notices; drained in order by whichever writer set delivering
	queue      []notice[V]
	delivering bool
}

// Store holds one snapshot per key and the listeners registered for it.
// It has no knowledge of what the values mean and never fetches.
//
// Writes for a key are serialized and their notifications delivered in write
// order. The writer that finds the key idle drains the queue, so a Set made
// from inside a listener is queued behind the current notice instead of
// deadlocking.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	now   func() time.Time
	hooks Hooks
	log   Logger
}

// NewStore builds an empty store. A nil clock means time.Now.
func NewStore[V any](now func() time.Time, hooks Hooks, log Logger) *Store[V] {
	if now == nil {
		now = time.Now
	}
	return &Store[V]{
		entries: make(map[string]*entry[V]),
		now:     now,
		hooks:   coalesce[Hooks](hooks, NopHooks{}),
		log:     coalesce[Logger](log, NopLogger{}),
	}
}

// entry returns the entry for key, creating it lazily. Caller holds s.mu.
func (s *Store[V]) entry(key string) *entry[V] {
	e, ok := s.entries[key]
	if !ok {
		e = &entry[V]{}
		s.entries[key] = e
	}
	return e
}

// Has reports whether key currently holds a value.
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(key).ok
}

// Get returns the current snapshot value for key without fetching.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	return e.value, e.ok
}

// Lookup returns the full snapshot for key.
func (s *Store[V]) Lookup(key string) Snapshot[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	return Snapshot[V]{Key: key, Value: e.value, OK: e.ok, Version: e.version, UpdatedAt: e.updatedAt}
}

// Peek is Lookup without creating an entry for an unknown key.
func (s *Store[V]) Peek(key string) (Snapshot[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Snapshot[V]{Key: key}, false
	}
	return Snapshot[V]{Key: key, Value: e.value, OK: e.ok, Version: e.version, UpdatedAt: e.updatedAt}, true
}

// Set overwrites the snapshot for key and notifies its listeners.
func (s *Store[V]) Set(key string, v V) {
	s.write(key, func(V, bool) (V, bool) { return v, true })
}

// Update applies fn to the current snapshot and stores the result atomically
// with respect to other writes on key. fn must not call back into the store.
func (s *Store[V]) Update(key string, fn func(cur V, ok bool) V) V {
	_, _, next := s.write(key, func(cur V, ok bool) (V, bool) { return fn(cur, ok), true })
	return next
}

// Restore puts key back to an earlier state, including "no value".
func (s *Store[V]) Restore(key string, v V, ok bool) {
	s.write(key, func(V, bool) (V, bool) { return v, ok })
}

// swap is Update that also returns what was replaced.
func (s *Store[V]) swap(key string, fn func(cur V, ok bool) V) (prior V, priorOK bool, next V) {
	return s.write(key, func(cur V, ok bool) (V, bool) { return fn(cur, ok), true })
}

func (s *Store[V]) write(key string, fn func(cur V, ok bool) (V, bool)) (prior V, priorOK bool, next V) {
	s.mu.Lock()
	e := s.entry(key)
	prior, priorOK = e.value, e.ok
	nv, nok, perr := applyGuarded(fn, prior, priorOK)
	if perr != nil {
		s.mu.Unlock()
		panic(perr)
	}
	e.value, e.ok = nv, nok
	e.version++
	e.updatedAt = s.now()

	if len(e.subs) > 0 {
		subs := make([]*subscription[V], len(e.subs))
		copy(subs, e.subs)
		e.queue = append(e.queue, notice[V]{value: nv, ok: nok, subs: subs})
	}
	if e.delivering || len(e.queue) == 0 {
		s.mu.Unlock()
		return prior, priorOK, nv
	}
	e.delivering = true
	for len(e.queue) > 0 {
		n := e.queue[0]
		e.queue[0] = notice[V]{}
		e.queue = e.queue[1:]
		s.mu.Unlock()
		s.deliver(key, n)
		s.mu.Lock()
	}
	e.queue = nil
	e.delivering = false
	s.mu.Unlock()
	return prior, priorOK, nv
}

// applyGuarded runs a transform under the store lock and reports a panic
// instead of unwinding with the lock held.
func applyGuarded[V any](fn func(V, bool) (V, bool), cur V, ok bool) (nv V, nok bool, panicked any) {
	defer func() { panicked = recover() }()
	nv, nok = fn(cur, ok)
	return nv, nok, nil
}

func (s *Store[V]) deliver(key string, n notice[V]) {
	for _, sub := range n.subs {
		sub.mu.Lock()
		if sub.active.Load() {
			sub.inCall.Store(true)
			s.call(key, sub.fn, n.value, n.ok)
			sub.inCall.Store(false)
		}
		sub.mu.Unlock()
	}
}

func (s *Store[V]) call(key string, fn Listener[V], v V, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("listener panicked", Fields{"key": key, "panic": r})
			s.hooks.ListenerPanic(key, r)
		}
	}()
	fn(v, ok)
}

// Subscribe registers fn for every future write to key. The returned function
// removes the registration; calling it more than once is a no-op. Once it
// returns no new call to fn starts. It may be called from inside fn.
func (s *Store[V]) Subscribe(key string, fn Listener[V]) (unsubscribe func()) {
	sub := &subscription[V]{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	e := s.entry(key)
	e.subs = append(e.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.dispose()
			s.mu.Lock()
			defer s.mu.Unlock()
			e, ok := s.entries[key]
			if !ok {
				return
			}
			for i, x := range e.subs {
				if x == sub {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of active listeners for key.
func (s *Store[V]) Subscribers(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return len(e.subs)
	}
	return 0
}

// Keys returns every key with an entry, sorted.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries, with or without a value.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
