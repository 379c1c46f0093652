package consumers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/livecache"
)

// Store is a seller's storefront.
type Store struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func storeID(s Store) string { return s.ID }

type StoreRepo interface {
	ListStores(ctx context.Context, ownerID string) ([]Store, error)
	CreateStore(ctx context.Context, s Store) error
	UpdateStore(ctx context.Context, s Store) error
}

type Stores struct {
	cache livecache.Cache[[]Store]
	repo  StoreRepo
}

func NewStores(cache livecache.Cache[[]Store], repo StoreRepo) *Stores {
	return &Stores{cache: cache, repo: repo}
}

func StoresKey(ownerID string) string { return "stores:" + ownerID }

func (s *Stores) loader(ownerID string) livecache.Loader[[]Store] {
	return func(ctx context.Context) ([]Store, error) {
		return s.repo.ListStores(ctx, ownerID)
	}
}

func (s *Stores) Load(ctx context.Context, ownerID string) ([]Store, error) {
	return s.cache.GetOrFetch(ctx, StoresKey(ownerID), s.loader(ownerID))
}

func (s *Stores) Watch(ownerID string, fn func([]Store)) (stop func()) {
	return watch(s.cache, StoresKey(ownerID), fn)
}

func (s *Stores) Create(ctx context.Context, ownerID, name, description string) (Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Store{}, fmt.Errorf("%w: store name required", ErrInvalid)
	}
	st := Store{ID: uuid.NewString(), OwnerID: ownerID, Name: name, Description: description}
	err := s.cache.Mutate(ctx, livecache.Mutation[[]Store]{
		Key: StoresKey(ownerID),
		Apply: func(cur []Store, _ bool) []Store {
			return append(append([]Store(nil), cur...), st)
		},
		Remote:    func(ctx context.Context) error { return s.repo.CreateStore(ctx, st) },
		Reconcile: s.loader(ownerID),
	})
	return created(st, err)
}

// Update replaces the store with the same ID.
func (s *Stores) Update(ctx context.Context, st Store) error {
	cur, _ := s.cache.Get(StoresKey(st.OwnerID))
	if !containsID(cur, st.ID, storeID) {
		return fmt.Errorf("%w: store %q", ErrItemNotFound, st.ID)
	}
	return s.cache.Mutate(ctx, livecache.Mutation[[]Store]{
		Key: StoresKey(st.OwnerID),
		Apply: func(cur []Store, _ bool) []Store {
			return replaceByID(cur, st.ID, storeID, func(Store) Store { return st })
		},
		Remote: func(ctx context.Context) error { return s.repo.UpdateStore(ctx, st) },
	})
}
