package consumers

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/livecache"
)

type CartItem struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"` // minor units
	Qty       int    `json:"qty"`
}

func cartItemID(c CartItem) string { return c.ID }

// CartRepo is the backend surface the cart needs.
type CartRepo interface {
	ListCart(ctx context.Context, userID string) ([]CartItem, error)
	AddCartItem(ctx context.Context, userID string, item CartItem) error
	SetCartQty(ctx context.Context, userID, itemID string, qty int) error
	RemoveCartItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

type Cart struct {
	cache livecache.Cache[[]CartItem]
	repo  CartRepo
}

func NewCart(cache livecache.Cache[[]CartItem], repo CartRepo) *Cart {
	return &Cart{cache: cache, repo: repo}
}

func CartKey(userID string) string { return "cart:" + userID }

func (c *Cart) loader(userID string) livecache.Loader[[]CartItem] {
	return func(ctx context.Context) ([]CartItem, error) {
		return c.repo.ListCart(ctx, userID)
	}
}

// Load returns the cached cart or fetches it once for all concurrent callers.
func (c *Cart) Load(ctx context.Context, userID string) ([]CartItem, error) {
	return c.cache.GetOrFetch(ctx, CartKey(userID), c.loader(userID))
}

// Watch calls fn with the current cart and with every later change.
func (c *Cart) Watch(userID string, fn func([]CartItem)) (stop func()) {
	return watch(c.cache, CartKey(userID), fn)
}

// Add puts item in the cart, or bumps its quantity when the product is
// already there. The server assigns ids, so the cart is reconciled afterwards.
func (c *Cart) Add(ctx context.Context, userID string, item CartItem) error {
	if item.ProductID == "" || item.Qty <= 0 {
		return fmt.Errorf("%w: cart item needs a product and a positive qty", ErrInvalid)
	}
	return c.cache.Mutate(ctx, livecache.Mutation[[]CartItem]{
		Key: CartKey(userID),
		Apply: func(cur []CartItem, _ bool) []CartItem {
			for i := range cur {
				if cur[i].ProductID == item.ProductID {
					return replaceByID(cur, cur[i].ID, cartItemID, func(ci CartItem) CartItem {
						ci.Qty += item.Qty
						return ci
					})
				}
			}
			return append(append([]CartItem(nil), cur...), item)
		},
		Remote:    func(ctx context.Context) error { return c.repo.AddCartItem(ctx, userID, item) },
		Reconcile: c.loader(userID),
	})
}

// SetQuantity sets an item's quantity; qty <= 0 removes the item.
func (c *Cart) SetQuantity(ctx context.Context, userID, itemID string, qty int) error {
	if qty <= 0 {
		return c.Remove(ctx, userID, itemID)
	}
	if err := c.requireItem(userID, itemID); err != nil {
		return err
	}
	return c.cache.Mutate(ctx, livecache.Mutation[[]CartItem]{
		Key: CartKey(userID),
		Apply: func(cur []CartItem, _ bool) []CartItem {
			return replaceByID(cur, itemID, cartItemID, func(ci CartItem) CartItem { ci.Qty = qty; return ci })
		},
		Remote:    func(ctx context.Context) error { return c.repo.SetCartQty(ctx, userID, itemID, qty) },
		Reconcile: c.loader(userID),
	})
}

// Increment adds one to an item's quantity.
func (c *Cart) Increment(ctx context.Context, userID, itemID string) error {
	if err := c.requireItem(userID, itemID); err != nil {
		return err
	}
	// Apply runs before Remote, so Remote sends the quantity Apply computed.
	var qty int
	return c.cache.Mutate(ctx, livecache.Mutation[[]CartItem]{
		Key: CartKey(userID),
		Apply: func(cur []CartItem, _ bool) []CartItem {
			return replaceByID(cur, itemID, cartItemID, func(ci CartItem) CartItem {
				ci.Qty++
				qty = ci.Qty
				return ci
			})
		},
		Remote: func(ctx context.Context) error {
			if qty == 0 {
				return fmt.Errorf("%w: cart item %q", ErrItemNotFound, itemID)
			}
			return c.repo.SetCartQty(ctx, userID, itemID, qty)
		},
		Reconcile: c.loader(userID),
	})
}

func (c *Cart) Remove(ctx context.Context, userID, itemID string) error {
	return c.cache.Mutate(ctx, livecache.Mutation[[]CartItem]{
		Key: CartKey(userID),
		Apply: func(cur []CartItem, _ bool) []CartItem {
			return removeByID(cur, itemID, cartItemID)
		},
		Remote: func(ctx context.Context) error { return c.repo.RemoveCartItem(ctx, userID, itemID) },
	})
}

func (c *Cart) Clear(ctx context.Context, userID string) error {
	return c.cache.Mutate(ctx, livecache.Mutation[[]CartItem]{
		Key:    CartKey(userID),
		Apply:  func([]CartItem, bool) []CartItem { return []CartItem{} },
		Remote: func(ctx context.Context) error { return c.repo.ClearCart(ctx, userID) },
	})
}

// Subtotal sums price*qty over the cached cart. ok is false when the cart
// has not been loaded.
func (c *Cart) Subtotal(userID string) (total int64, ok bool) {
	items, ok := c.cache.Get(CartKey(userID))
	for _, it := range items {
		total += it.Price * int64(it.Qty)
	}
	return total, ok
}

func (c *Cart) requireItem(userID, itemID string) error {
	cur, _ := c.cache.Get(CartKey(userID))
	if !containsID(cur, itemID, cartItemID) {
		return fmt.Errorf("%w: cart item %q", ErrItemNotFound, itemID)
	}
	return nil
}
