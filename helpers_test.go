package livecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type item struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

var errNetwork = errors.New("network unreachable")

// gatedLoader blocks every invocation until release is closed and counts calls.
type gatedLoader struct {
	calls   atomic.Int32
	release chan struct{}
	value   []item
	err     error
}

func newGatedLoader(value []item, err error) *gatedLoader {
	return &gatedLoader{release: make(chan struct{}), value: value, err: err}
}

func (g *gatedLoader) load(ctx context.Context) ([]item, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.value, g.err
}

func (g *gatedLoader) open() { close(g.release) }

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestCache(t *testing.T, optsOpt func(*Options[[]item])) *cache[[]item] {
	t.Helper()
	opts := Options[[]item]{Name: "cart"}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c := newCache[[]item](opts)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// recordingHooks captures hook calls for assertions.
type recordingHooks struct {
	mu        sync.Mutex
	started   []string
	joined    []string
	failed    []string
	committed []bool
	reverted  []string
	events    []string
	panics    int
}

var _ Hooks = (*recordingHooks)(nil)

func (h *recordingHooks) FetchStarted(k string, _ bool) {
	h.mu.Lock()
	h.started = append(h.started, k)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchJoined(k string) {
	h.mu.Lock()
	h.joined = append(h.joined, k)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchFailed(k string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, k)
	h.mu.Unlock()
}

func (h *recordingHooks) MutationCommitted(_ string, reconciled bool) {
	h.mu.Lock()
	h.committed = append(h.committed, reconciled)
	h.mu.Unlock()
}

func (h *recordingHooks) MutationReverted(k string, _ error) {
	h.mu.Lock()
	h.reverted = append(h.reverted, k)
	h.mu.Unlock()
}

func (h *recordingHooks) ServerEvent(k string, kind EventKind, handled bool) {
	h.mu.Lock()
	if handled {
		h.events = append(h.events, k+":"+string(kind))
	}
	h.mu.Unlock()
}

func (h *recordingHooks) ListenerPanic(string, any) {
	h.mu.Lock()
	h.panics++
	h.mu.Unlock()
}

func (h *recordingHooks) count(f func(*recordingHooks) int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return f(h)
}
