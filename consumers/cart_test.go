package consumers

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/unkn0wn-root/livecache"
)

func newTestCart(t *testing.T) (*Cart, *fakeBackend, livecache.Cache[[]CartItem]) {
	t.Helper()
	fb := newFakeBackend()
	c := livecache.New[[]CartItem](livecache.Options[[]CartItem]{Name: "cart"})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return NewCart(c, fb), fb, c
}

func TestCartLoadIsSharedAcrossViews(t *testing.T) {
	cart, fb, _ := newTestCart(t)
	fb.cart["u1"] = []CartItem{{ID: "i1", ProductID: "p1", Qty: 2, Price: 500}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cart.Load(context.Background(), "u1"); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()
	// later mounts are served from the store
	if _, err := cart.Load(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if n := fb.lists.Load(); n < 1 || n > 3 {
		t.Fatalf("ListCart calls = %d", n)
	}
	if total, ok := cart.Subtotal("u1"); !ok || total != 1000 {
		t.Fatalf("Subtotal = %d ok=%v", total, ok)
	}
}

func TestCartIncrementRollsBackWhenOffline(t *testing.T) {
	ctx := context.Background()
	cart, fb, _ := newTestCart(t)
	fb.cart["u1"] = []CartItem{{ID: "i1", ProductID: "p1", Qty: 2}}
	if _, err := cart.Load(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	var seen []int
	stop := cart.Watch("u1", func(items []CartItem) { seen = append(seen, items[0].Qty) })
	defer stop()

	fb.setFail(true)
	err := cart.Increment(ctx, "u1", "i1")
	if !livecache.Reverted(err) || !errors.Is(err, errOffline) {
		t.Fatalf("expected reverted offline error, got %v", err)
	}
	if !reflect.DeepEqual(seen, []int{2, 3, 2}) {
		t.Fatalf("watcher saw %v", seen)
	}
}

func TestCartIncrementCommitsAndReconciles(t *testing.T) {
	ctx := context.Background()
	cart, fb, c := newTestCart(t)
	fb.cart["u1"] = []CartItem{{ID: "i1", ProductID: "p1", Qty: 2}}
	_, _ = cart.Load(ctx, "u1")

	if err := cart.Increment(ctx, "u1", "i1"); err != nil {
		t.Fatal(err)
	}
	if fb.cart["u1"][0].Qty != 3 {
		t.Fatalf("server qty = %d", fb.cart["u1"][0].Qty)
	}
	if got, _ := c.Get(CartKey("u1")); got[0].Qty != 3 {
		t.Fatalf("cache qty = %d", got[0].Qty)
	}
}

func TestCartAddAdoptsServerIDs(t *testing.T) {
	ctx := context.Background()
	cart, _, c := newTestCart(t)
	_, _ = cart.Load(ctx, "u1")

	if err := cart.Add(ctx, "u1", CartItem{ProductID: "p9", Qty: 1}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Get(CartKey("u1"))
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Fatalf("cart after reconcile = %+v", got)
	}

	// adding the same product again bumps the quantity
	if err := cart.Add(ctx, "u1", CartItem{ProductID: "p9", Qty: 2}); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get(CartKey("u1")); len(got) != 1 || got[0].Qty != 3 {
		t.Fatalf("cart = %+v", got)
	}
}

func TestCartValidation(t *testing.T) {
	ctx := context.Background()
	cart, _, _ := newTestCart(t)
	if err := cart.Add(ctx, "u1", CartItem{ProductID: "p1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Add with qty 0: %v", err)
	}
	if err := cart.Increment(ctx, "u1", "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Increment missing item: %v", err)
	}
}

func TestCartSetQuantityZeroRemoves(t *testing.T) {
	ctx := context.Background()
	cart, fb, c := newTestCart(t)
	fb.cart["u1"] = []CartItem{{ID: "i1", ProductID: "p1", Qty: 2}, {ID: "i2", ProductID: "p2", Qty: 1}}
	_, _ = cart.Load(ctx, "u1")

	if err := cart.SetQuantity(ctx, "u1", "i1", 0); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get(CartKey("u1")); len(got) != 1 || got[0].ID != "i2" {
		t.Fatalf("cart = %+v", got)
	}
	if err := cart.Clear(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Get(CartKey("u1")); !ok || len(got) != 0 {
		t.Fatalf("cart after Clear = %+v ok=%v", got, ok)
	}
}

// The transform must not write into the slice other views still hold.
func TestCartTransformsAreCopyOnWrite(t *testing.T) {
	ctx := context.Background()
	cart, fb, _ := newTestCart(t)
	fb.cart["u1"] = []CartItem{{ID: "i1", ProductID: "p1", Qty: 2}}
	before, _ := cart.Load(ctx, "u1")

	_ = cart.Increment(ctx, "u1", "i1")
	if before[0].Qty != 2 {
		t.Fatalf("earlier snapshot modified in place: %+v", before)
	}
}
