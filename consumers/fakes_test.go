package consumers

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

var errOffline = errors.New("offline")

// fakeBackend is an in-memory implementation of every repository.
// Setting fail makes every write fail; reads keep working.
type fakeBackend struct {
	mu    sync.Mutex
	fail  bool
	lists atomic.Int32
	seq   int

	cart     map[string][]CartItem
	bag      map[string][]BagItem
	convs    map[string][]Conversation
	products []Product
	stores   map[string][]Store
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		cart:   make(map[string][]CartItem),
		bag:    make(map[string][]BagItem),
		convs:  make(map[string][]Conversation),
		stores: make(map[string][]Store),
	}
}

func (f *fakeBackend) write(fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errOffline
	}
	fn()
	return nil
}

func (f *fakeBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeBackend) ListCart(_ context.Context, u string) ([]CartItem, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cart[u]), nil
}

func (f *fakeBackend) AddCartItem(_ context.Context, u string, it CartItem) error {
	return f.write(func() {
		for i := range f.cart[u] {
			if f.cart[u][i].ProductID == it.ProductID {
				f.cart[u][i].Qty += it.Qty
				return
			}
		}
		f.seq++
		it.ID = "srv-" + strconv.Itoa(f.seq)
		f.cart[u] = append(f.cart[u], it)
	})
}

func (f *fakeBackend) SetCartQty(_ context.Context, u, id string, qty int) error {
	return f.write(func() {
		for i := range f.cart[u] {
			if f.cart[u][i].ID == id {
				f.cart[u][i].Qty = qty
			}
		}
	})
}

func (f *fakeBackend) RemoveCartItem(_ context.Context, u, id string) error {
	return f.write(func() {
		f.cart[u] = slices.DeleteFunc(f.cart[u], func(c CartItem) bool { return c.ID == id })
	})
}

func (f *fakeBackend) ClearCart(_ context.Context, u string) error {
	return f.write(func() { delete(f.cart, u) })
}

func (f *fakeBackend) ListBag(_ context.Context, u string) ([]BagItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.bag[u]), nil
}

func (f *fakeBackend) AddBagItem(_ context.Context, u string, it BagItem) error {
	return f.write(func() { f.bag[u] = append(f.bag[u], it) })
}

func (f *fakeBackend) RemoveBagItem(_ context.Context, u, id string) error {
	return f.write(func() {
		f.bag[u] = slices.DeleteFunc(f.bag[u], func(b BagItem) bool { return b.ID == id })
	})
}

func (f *fakeBackend) ListConversations(_ context.Context, u string) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.convs[u]), nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, u string, c Conversation) error {
	return f.write(func() { f.convs[u] = append(f.convs[u], c) })
}

func (f *fakeBackend) RenameConversation(_ context.Context, u, id, title string) error {
	return f.write(func() {
		for i := range f.convs[u] {
			if f.convs[u][i].ID == id {
				f.convs[u][i].Title = title
			}
		}
	})
}

func (f *fakeBackend) DeleteConversation(_ context.Context, u, id string) error {
	return f.write(func() {
		f.convs[u] = slices.DeleteFunc(f.convs[u], func(c Conversation) bool { return c.ID == id })
	})
}

func (f *fakeBackend) ListProducts(context.Context) ([]Product, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.products), nil
}

func (f *fakeBackend) SetFavorite(_ context.Context, id string, fav bool) error {
	return f.write(func() {
		for i := range f.products {
			if f.products[i].ID == id {
				f.products[i].Favorite = fav
			}
		}
	})
}

func (f *fakeBackend) ListStores(_ context.Context, owner string) ([]Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.stores[owner]), nil
}

func (f *fakeBackend) CreateStore(_ context.Context, s Store) error {
	return f.write(func() { f.stores[s.OwnerID] = append(f.stores[s.OwnerID], s) })
}

func (f *fakeBackend) UpdateStore(_ context.Context, s Store) error {
	return f.write(func() {
		for i := range f.stores[s.OwnerID] {
			if f.stores[s.OwnerID][i].ID == s.ID {
				f.stores[s.OwnerID][i] = s
			}
		}
	})
}
