package consumers

import (
	"context"

	"github.com/unkn0wn-root/livecache/backend"
)

// Tables used by REST.
const (
	TableCart          = "cart_items"
	TableBag           = "bag_items"
	TableConversations = "conversations"
	TableProducts      = "products"
	TableStores        = "stores"
)

// REST implements every repository in this package on a backend.Client.
type REST struct {
	c *backend.Client
}

var (
	_ CartRepo         = (*REST)(nil)
	_ BagRepo          = (*REST)(nil)
	_ ConversationRepo = (*REST)(nil)
	_ CatalogRepo      = (*REST)(nil)
	_ StoreRepo        = (*REST)(nil)
)

func NewREST(c *backend.Client) *REST { return &REST{c: c} }

// Row shapes for inserts; the owning user is a column, not part of the item.
type (
	cartRow struct {
		CartItem
		UserID string `json:"user_id"`
	}
	bagRow struct {
		BagItem
		UserID string `json:"user_id"`
	}
	conversationRow struct {
		Conversation
		UserID string `json:"user_id"`
	}
)

// cart

func (r *REST) ListCart(ctx context.Context, userID string) ([]CartItem, error) {
	var out []CartItem
	err := r.c.List(ctx, TableCart, backend.Filter{"user_id": userID}, &out, backend.OrderBy("created_at", false))
	return out, err
}

func (r *REST) AddCartItem(ctx context.Context, userID string, item CartItem) error {
	return r.c.Insert(ctx, TableCart, cartRow{CartItem: item, UserID: userID}, nil)
}

func (r *REST) SetCartQty(ctx context.Context, userID, itemID string, qty int) error {
	return r.c.Patch(ctx, TableCart, backend.Filter{"user_id": userID, "id": itemID}, map[string]int{"qty": qty}, nil)
}

func (r *REST) RemoveCartItem(ctx context.Context, userID, itemID string) error {
	return r.c.Delete(ctx, TableCart, backend.Filter{"user_id": userID, "id": itemID})
}

func (r *REST) ClearCart(ctx context.Context, userID string) error {
	return r.c.Delete(ctx, TableCart, backend.Filter{"user_id": userID})
}

// bag

func (r *REST) ListBag(ctx context.Context, userID string) ([]BagItem, error) {
	var out []BagItem
	err := r.c.List(ctx, TableBag, backend.Filter{"user_id": userID}, &out, backend.OrderBy("created_at", false))
	return out, err
}

func (r *REST) AddBagItem(ctx context.Context, userID string, item BagItem) error {
	return r.c.Insert(ctx, TableBag, bagRow{BagItem: item, UserID: userID}, nil)
}

func (r *REST) RemoveBagItem(ctx context.Context, userID, itemID string) error {
	return r.c.Delete(ctx, TableBag, backend.Filter{"user_id": userID, "id": itemID})
}

// conversations

func (r *REST) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	err := r.c.List(ctx, TableConversations, backend.Filter{"user_id": userID}, &out, backend.OrderBy("updated_at", true))
	return out, err
}

func (r *REST) CreateConversation(ctx context.Context, userID string, c Conversation) error {
	return r.c.Insert(ctx, TableConversations, conversationRow{Conversation: c, UserID: userID}, nil)
}

func (r *REST) RenameConversation(ctx context.Context, userID, id, title string) error {
	return r.c.Patch(ctx, TableConversations, backend.Filter{"user_id": userID, "id": id}, map[string]string{"title": title}, nil)
}

func (r *REST) DeleteConversation(ctx context.Context, userID, id string) error {
	return r.c.Delete(ctx, TableConversations, backend.Filter{"user_id": userID, "id": id})
}

// catalog

func (r *REST) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := r.c.List(ctx, TableProducts, nil, &out, backend.OrderBy("name", false))
	return out, err
}

func (r *REST) SetFavorite(ctx context.Context, productID string, favorite bool) error {
	return r.c.Patch(ctx, TableProducts, backend.Filter{"id": productID}, map[string]bool{"favorite": favorite}, nil)
}

// stores

func (r *REST) ListStores(ctx context.Context, ownerID string) ([]Store, error) {
	var out []Store
	err := r.c.List(ctx, TableStores, backend.Filter{"owner_id": ownerID}, &out)
	return out, err
}

func (r *REST) CreateStore(ctx context.Context, s Store) error {
	return r.c.Insert(ctx, TableStores, s, nil)
}

func (r *REST) UpdateStore(ctx context.Context, s Store) error {
	return r.c.Patch(ctx, TableStores, backend.Filter{"id": s.ID, "owner_id": s.OwnerID}, s, nil)
}
