package consumers

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/livecache"
)

type Product struct {
	ID       string `json:"id"`
	StoreID  string `json:"store_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Favorite bool   `json:"favorite"`
}

func productID(p Product) string { return p.ID }

type CatalogRepo interface {
	ListProducts(ctx context.Context) ([]Product, error)
	SetFavorite(ctx context.Context, productID string, favorite bool) error
}

// CatalogKey is the single key holding the whole product list.
const CatalogKey = "products:all"

// LoaderWrapper decorates a loader for key; tier.Tier.Wrap has this shape.
type LoaderWrapper[T any] func(key string, inner livecache.Loader[T]) livecache.Loader[T]

type Catalog struct {
	cache livecache.Cache[[]Product]
	repo  CatalogRepo
	wrap  LoaderWrapper[[]Product]
}

func NewCatalog(cache livecache.Cache[[]Product], repo CatalogRepo) *Catalog {
	return &Catalog{cache: cache, repo: repo}
}

// WithLoaderWrapper puts w in front of every catalog load, e.g. a shared tier.
func (c *Catalog) WithLoaderWrapper(w LoaderWrapper[[]Product]) *Catalog {
	c.wrap = w
	return c
}

func (c *Catalog) Load(ctx context.Context) ([]Product, error) {
	return c.cache.GetOrFetch(ctx, CatalogKey, c.Loader())
}

// Refresh reloads the list even when it is cached (pull-to-refresh).
func (c *Catalog) Refresh(ctx context.Context) ([]Product, error) {
	return c.cache.GetOrFetch(ctx, CatalogKey, c.Loader(), livecache.WithForceRefresh())
}

// Loader returns the catalog loader, including any wrapper.
func (c *Catalog) Loader() livecache.Loader[[]Product] {
	var l livecache.Loader[[]Product] = c.repo.ListProducts
	if c.wrap != nil {
		return c.wrap(CatalogKey, l)
	}
	return l
}

func (c *Catalog) Watch(fn func([]Product)) (stop func()) {
	return watch(c.cache, CatalogKey, fn)
}

// ToggleFavorite flips a product's favorite flag and reports the flag now in
// effect. The list is reconciled through Loader, so a wrapping tier is
// rewritten and sibling processes do not load the old flag from it.
func (c *Catalog) ToggleFavorite(ctx context.Context, id string) (favorite bool, err error) {
	cur, _ := c.cache.Get(CatalogKey)
	if !containsID(cur, id, productID) {
		return false, fmt.Errorf("%w: product %q", ErrItemNotFound, id)
	}
	err = c.cache.Mutate(ctx, livecache.Mutation[[]Product]{
		Key: CatalogKey,
		Apply: func(cur []Product, _ bool) []Product {
			return replaceByID(cur, id, productID, func(p Product) Product {
				p.Favorite = !p.Favorite
				favorite = p.Favorite
				return p
			})
		},
		Remote: func(ctx context.Context) error { return c.repo.SetFavorite(ctx, id, favorite) },
		// forced through the wrapper so a shared tier gets the new list too
		Reconcile: c.Loader(),
	})
	if livecache.Reverted(err) {
		return !favorite, err
	}
	return favorite, err
}

// ByStore filters the cached catalog to one store's products.
func (c *Catalog) ByStore(storeID string) []Product {
	all, _ := c.cache.Get(CatalogKey)
	var out []Product
	for _, p := range all {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	return out
}
