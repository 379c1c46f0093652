package livecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mutation describes one optimistic change to a cached key.
type Mutation[V any] struct {
	Key string

	// Apply computes the speculative value from the current snapshot.
	// It must return a new value and leave cur untouched.
	Apply func(cur V, ok bool) V

	// Remote performs the write against the source of truth.
	Remote func(ctx context.Context) error

	// Reconcile, when set, is run as a forced refresh after Remote succeeds so
	// the cache converges on server state. A fetch already in flight is joined
	// only if it started after Remote returned. Nil trusts the speculative value.
	Reconcile Loader[V]
}

// PendingMutation is the record kept while a mutation's remote call runs.
type PendingMutation[V any] struct {
	ID          string
	Key         string
	Prior       V
	PriorOK     bool
	Speculative V
	Status      MutationStatus
	StartedAt   time.Time
}

// Mutator runs the optimistic protocol against a Store:
// speculative write, remote call, then commit (optionally reconcile) or revert.
type Mutator[V any] struct {
	store   *Store[V]
	fetcher *Fetcher[V]
	log     Logger
	hooks   Hooks
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string][]*PendingMutation[V]
}

// NewMutator builds a Mutator. fetcher is used for reconcile refreshes.
func NewMutator[V any](store *Store[V], fetcher *Fetcher[V], timeout time.Duration, hooks Hooks, log Logger) *Mutator[V] {
	return &Mutator[V]{
		store:   store,
		fetcher: fetcher,
		log:     coalesce[Logger](log, NopLogger{}),
		hooks:   coalesce[Hooks](hooks, NopHooks{}),
		timeout: timeout,
		now:     store.now,
		pending: make(map[string][]*PendingMutation[V]),
	}
}

// Mutate applies op.Apply immediately, then runs op.Remote.
//
// On remote failure the snapshot captured right before the speculative write
// is restored (including "no value") before Mutate returns a *MutationError
// with StatusReverted. If another mutation on the same key started first and
// is still pending, that snapshot may itself be speculative.
//
// The remote call and the commit/revert run to completion even if ctx is
// cancelled; other consumers share the key and must not see a half-applied state.
func (m *Mutator[V]) Mutate(ctx context.Context, op Mutation[V]) error {
	if op.Apply == nil || op.Remote == nil {
		return errors.New("livecache: mutation needs Apply and Remote")
	}

	rec := &PendingMutation[V]{
		ID:        uuid.NewString(),
		Key:       op.Key,
		Status:    StatusPending,
		StartedAt: m.now(),
	}
	rec.Prior, rec.PriorOK, rec.Speculative = m.store.swap(op.Key, op.Apply)
	m.track(rec)
	defer m.untrack(rec)

	rctx, cancel := detached(ctx, m.timeout)
	err := m.remote(rctx, op.Remote)
	cancel()
	// fetches that started before this point may have read pre-write state
	mark := m.fetcher.mark()

	if err != nil {
		m.store.Restore(op.Key, rec.Prior, rec.PriorOK)
		m.setStatus(rec, StatusReverted)
		m.log.Info("mutation reverted", Fields{"key": op.Key, "id": rec.ID, "err": err})
		m.hooks.MutationReverted(op.Key, err)
		return &MutationError{ID: rec.ID, Key: op.Key, Status: StatusReverted, Err: err}
	}

	m.setStatus(rec, StatusCommitted)
	if op.Reconcile == nil {
		m.hooks.MutationCommitted(op.Key, false)
		return nil
	}

	// the remote write already happened; a late caller cancel must not skip reconcile
	if _, ferr := m.fetcher.refreshAfter(context.WithoutCancel(ctx), op.Key, op.Reconcile, mark); ferr != nil {
		m.log.Warn("reconcile after mutation failed", Fields{"key": op.Key, "id": rec.ID, "err": ferr})
		m.hooks.MutationCommitted(op.Key, false)
		return &MutationError{ID: rec.ID, Key: op.Key, Status: StatusCommitted, Err: ferr}
	}
	m.hooks.MutationCommitted(op.Key, true)
	return nil
}

func (m *Mutator[V]) remote(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote operation panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Mutator[V]) track(rec *PendingMutation[V]) {
	m.mu.Lock()
	m.pending[rec.Key] = append(m.pending[rec.Key], rec)
	m.mu.Unlock()
}

func (m *Mutator[V]) untrack(rec *PendingMutation[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pending[rec.Key]
	for i, r := range list {
		if r == rec {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.pending, rec.Key)
		return
	}
	m.pending[rec.Key] = list
}

func (m *Mutator[V]) setStatus(rec *PendingMutation[V], s MutationStatus) {
	m.mu.Lock()
	rec.Status = s
	m.mu.Unlock()
}

// Pending returns the number of mutations on key that have not finished.
func (m *Mutator[V]) Pending(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[key])
}

// PendingMutations returns copies of the live records for key in start order.
func (m *Mutator[V]) PendingMutations(key string) []PendingMutation[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingMutation[V], 0, len(m.pending[key]))
	for _, r := range m.pending[key] {
		out = append(out, *r)
	}
	return out
}
