package consumers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/livecache"
)

// BagKind tells what a bag entry points at.
type BagKind string

const (
	BagProduct BagKind = "product"
	BagCourse  BagKind = "course"
	BagService BagKind = "service"
)

// BagItem is one entry of the unified bag: products, courses and freelance
// services checked out together.
type BagItem struct {
	ID    string  `json:"id"`
	Kind  BagKind `json:"kind"`
	RefID string  `json:"ref_id"`
	Title string  `json:"title"`
	Price int64   `json:"price"`
	Qty   int     `json:"qty"`
}

func bagItemID(b BagItem) string { return b.ID }

type BagRepo interface {
	ListBag(ctx context.Context, userID string) ([]BagItem, error)
	AddBagItem(ctx context.Context, userID string, item BagItem) error
	RemoveBagItem(ctx context.Context, userID, itemID string) error
}

type Bag struct {
	cache livecache.Cache[[]BagItem]
	repo  BagRepo
}

func NewBag(cache livecache.Cache[[]BagItem], repo BagRepo) *Bag {
	return &Bag{cache: cache, repo: repo}
}

func BagKey(userID string) string { return "bag:" + userID }

func (b *Bag) loader(userID string) livecache.Loader[[]BagItem] {
	return func(ctx context.Context) ([]BagItem, error) {
		return b.repo.ListBag(ctx, userID)
	}
}

func (b *Bag) Load(ctx context.Context, userID string) ([]BagItem, error) {
	return b.cache.GetOrFetch(ctx, BagKey(userID), b.loader(userID))
}

func (b *Bag) Watch(userID string, fn func([]BagItem)) (stop func()) {
	return watch(b.cache, BagKey(userID), fn)
}

// Add inserts item with a client-generated id so the provisional entry and
// the stored row are the same item. Courses and services are single-quantity.
// It returns the id used.
func (b *Bag) Add(ctx context.Context, userID string, item BagItem) (string, error) {
	switch item.Kind {
	case BagProduct:
		if item.Qty <= 0 {
			item.Qty = 1
		}
	case BagCourse, BagService:
		item.Qty = 1
	default:
		return "", fmt.Errorf("%w: bag kind %q", ErrInvalid, item.Kind)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	err := b.cache.Mutate(ctx, livecache.Mutation[[]BagItem]{
		Key: BagKey(userID),
		Apply: func(cur []BagItem, _ bool) []BagItem {
			return append(append([]BagItem(nil), cur...), item)
		},
		Remote:    func(ctx context.Context) error { return b.repo.AddBagItem(ctx, userID, item) },
		Reconcile: b.loader(userID),
	})
	return created(item.ID, err)
}

func (b *Bag) Remove(ctx context.Context, userID, itemID string) error {
	return b.cache.Mutate(ctx, livecache.Mutation[[]BagItem]{
		Key:    BagKey(userID),
		Apply:  func(cur []BagItem, _ bool) []BagItem { return removeByID(cur, itemID, bagItemID) },
		Remote: func(ctx context.Context) error { return b.repo.RemoveBagItem(ctx, userID, itemID) },
	})
}

// Totals sums the cached bag per kind.
func (b *Bag) Totals(userID string) map[BagKind]int64 {
	items, _ := b.cache.Get(BagKey(userID))
	out := make(map[BagKind]int64)
	for _, it := range items {
		out[it.Kind] += it.Price * int64(it.Qty)
	}
	return out
}

// Total sums the cached bag across kinds.
func (b *Bag) Total(userID string) int64 {
	var total int64
	for _, v := range b.Totals(userID) {
		total += v
	}
	return total
}
