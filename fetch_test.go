package livecache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ==============================
// Deduplication
// ==============================

// Three components mount in the same tick on an empty cart; one load serves all.
func TestGetOrFetchDedupsConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	want := []item{{ID: "i1", Qty: 2}}
	g := newGatedLoader(want, nil)

	const n = 3
	results := make([][]item, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, "cart:u1", g.load)
		}(i)
	}

	waitFor(t, "all callers to wait", func() bool { return c.fetcher.Waiters("cart:u1") == n })
	g.open()
	wg.Wait()

	if calls := g.calls.Load(); calls != 1 {
		t.Fatalf("loader invoked %d times, want 1", calls)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || !reflect.DeepEqual(results[i], want) {
			t.Fatalf("caller %d: err=%v got=%v", i, errs[i], results[i])
		}
	}
	if got, _ := c.Get("cart:u1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("store holds %v", got)
	}
}

func TestGetOrFetchCachedValueSkipsLoader(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	c.Set("cart:u1", []item{{ID: "i1", Qty: 1}})

	called := false
	got, err := c.GetOrFetch(ctx, "cart:u1", func(context.Context) ([]item, error) {
		called = true
		return nil, nil
	})
	if err != nil || called {
		t.Fatalf("cached read invoked loader=%v err=%v", called, err)
	}
	if len(got) != 1 || got[0].Qty != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestForcedRefreshSupersedesCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	c.Set("cart:u1", []item{{ID: "i1", Qty: 1}})

	var calls atomic.Int32
	loader := func(ctx context.Context) ([]item, error) {
		calls.Add(1)
		if !IsForced(ctx) {
			t.Errorf("forced loader context not marked")
		}
		return []item{{ID: "i1", Qty: 5}}, nil
	}

	got, err := c.GetOrFetch(ctx, "cart:u1", loader, WithForceRefresh())
	if err != nil {
		t.Fatalf("GetOrFetch forced: %v", err)
	}
	if calls.Load() != 1 || got[0].Qty != 5 {
		t.Fatalf("calls=%d got=%v", calls.Load(), got)
	}
	if v, _ := c.Get("cart:u1"); v[0].Qty != 5 {
		t.Fatalf("store not overwritten: %v", v)
	}
}

func TestForcedRefreshJoinsInFlightFetch(t *testing.T) {
	ctx := context.Background()
	h := &recordingHooks{}
	c := newTestCache(t, func(o *Options[[]item]) { o.Hooks = h })

	g := newGatedLoader([]item{{ID: "i1", Qty: 1}}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrFetch(ctx, "cart:u1", g.load)
	}()
	waitFor(t, "first fetch to start", func() bool { return c.fetcher.InFlight("cart:u1") })

	forced := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "cart:u1", g.load, WithForceRefresh())
		forced <- err
	}()
	waitFor(t, "forced caller to join", func() bool { return c.fetcher.Waiters("cart:u1") == 2 })
	g.open()
	<-done
	if err := <-forced; err != nil {
		t.Fatalf("forced join: %v", err)
	}
	if calls := g.calls.Load(); calls != 1 {
		t.Fatalf("loader invoked %d times, want 1", calls)
	}
	if n := h.count(func(h *recordingHooks) int { return len(h.joined) }); n != 1 {
		t.Fatalf("FetchJoined = %d, want 1", n)
	}
}

// ==============================
// Failure semantics
// ==============================

func TestFetchFailureKeepsPriorValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	prior := []item{{ID: "i1", Qty: 2}}
	c.Set("cart:u1", prior)
	before := c.Lookup("cart:u1").Version

	_, err := c.GetOrFetch(ctx, "cart:u1", func(context.Context) ([]item, error) {
		return nil, errNetwork
	}, WithForceRefresh())

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Key != "cart:u1" || !errors.Is(err, errNetwork) {
		t.Fatalf("expected *FetchError wrapping errNetwork, got %v", err)
	}
	snap := c.Lookup("cart:u1")
	if !reflect.DeepEqual(snap.Value, prior) || snap.Version != before {
		t.Fatalf("failed fetch touched the store: %+v", snap)
	}
	if c.fetcher.InFlight("cart:u1") {
		t.Fatalf("in-flight record not cleared after failure")
	}
}

func TestFetchFailureRejectsAllWaitersWithSameError(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	g := newGatedLoader(nil, errNetwork)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.GetOrFetch(ctx, "cart:u1", g.load)
			errs <- err
		}()
	}
	waitFor(t, "two waiters", func() bool { return c.fetcher.Waiters("cart:u1") == 2 })
	g.open()

	e1, e2 := <-errs, <-errs
	if e1 == nil || e1 != e2 {
		t.Fatalf("waiters got different errors: %v / %v", e1, e2)
	}
	if c.Has("cart:u1") {
		t.Fatalf("failed fetch populated the store")
	}
}

func TestLoaderPanicBecomesFetchError(t *testing.T) {
	c := newTestCache(t, nil)
	_, err := c.GetOrFetch(context.Background(), "k", func(context.Context) ([]item, error) {
		panic("loader exploded")
	})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

// ==============================
// Cancellation
// ==============================

// A caller leaving does not cancel the shared fetch; the result still lands.
func TestCallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	c := newTestCache(t, nil)
	g := newGatedLoader([]item{{ID: "i1", Qty: 4}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "cart:u1", g.load)
		errc <- err
	}()
	waitFor(t, "fetch to start", func() bool { return c.fetcher.InFlight("cart:u1") })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}
	g.open()
	waitFor(t, "shared fetch to land", func() bool { return c.Has("cart:u1") })
}

func TestFetchTimeoutBoundsLoader(t *testing.T) {
	c := newTestCache(t, func(o *Options[[]item]) { o.FetchTimeout = 20 * time.Millisecond })
	g := newGatedLoader(nil, nil) // never opened

	_, err := c.GetOrFetch(context.Background(), "slow", g.load)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGetOrFetchAfterCloseFails(t *testing.T) {
	c := newTestCache(t, nil)
	_ = c.Close(context.Background())
	if _, err := c.GetOrFetch(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
