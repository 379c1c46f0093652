package consumers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/livecache"
)

// Conversation is an AI assistant thread, newest first in the list.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

func conversationID(c Conversation) string { return c.ID }

type ConversationRepo interface {
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	CreateConversation(ctx context.Context, userID string, c Conversation) error
	RenameConversation(ctx context.Context, userID, id, title string) error
	DeleteConversation(ctx context.Context, userID, id string) error
}

type Conversations struct {
	cache livecache.Cache[[]Conversation]
	repo  ConversationRepo
	now   func() time.Time
}

func NewConversations(cache livecache.Cache[[]Conversation], repo ConversationRepo) *Conversations {
	return &Conversations{cache: cache, repo: repo, now: time.Now}
}

func ConversationsKey(userID string) string { return "conversations:" + userID }

func (c *Conversations) loader(userID string) livecache.Loader[[]Conversation] {
	return func(ctx context.Context) ([]Conversation, error) {
		list, err := c.repo.ListConversations(ctx, userID)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(list, func(a, b Conversation) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
		return list, nil
	}
}

func (c *Conversations) Load(ctx context.Context, userID string) ([]Conversation, error) {
	return c.cache.GetOrFetch(ctx, ConversationsKey(userID), c.loader(userID))
}

func (c *Conversations) Watch(userID string, fn func([]Conversation)) (stop func()) {
	return watch(c.cache, ConversationsKey(userID), fn)
}

// Create starts a conversation. It is listed at the top immediately under a
// client-generated id and returned so the caller can open it right away.
// If the server rejects it the zero Conversation is returned with the error.
func (c *Conversations) Create(ctx context.Context, userID, title string) (Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	conv := Conversation{ID: uuid.NewString(), Title: title, UpdatedAt: c.now()}
	err := c.cache.Mutate(ctx, livecache.Mutation[[]Conversation]{
		Key: ConversationsKey(userID),
		Apply: func(cur []Conversation, _ bool) []Conversation {
			return append([]Conversation{conv}, cur...)
		},
		Remote:    func(ctx context.Context) error { return c.repo.CreateConversation(ctx, userID, conv) },
		Reconcile: c.loader(userID),
	})
	return created(conv, err)
}

func (c *Conversations) Rename(ctx context.Context, userID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalid)
	}
	cur, _ := c.cache.Get(ConversationsKey(userID))
	if !containsID(cur, id, conversationID) {
		return fmt.Errorf("%w: conversation %q", ErrItemNotFound, id)
	}
	return c.cache.Mutate(ctx, livecache.Mutation[[]Conversation]{
		Key: ConversationsKey(userID),
		Apply: func(cur []Conversation, _ bool) []Conversation {
			return replaceByID(cur, id, conversationID, func(cv Conversation) Conversation {
				cv.Title = title
				return cv
			})
		},
		Remote: func(ctx context.Context) error { return c.repo.RenameConversation(ctx, userID, id, title) },
	})
}

func (c *Conversations) Delete(ctx context.Context, userID, id string) error {
	return c.cache.Mutate(ctx, livecache.Mutation[[]Conversation]{
		Key:    ConversationsKey(userID),
		Apply:  func(cur []Conversation, _ bool) []Conversation { return removeByID(cur, id, conversationID) },
		Remote: func(ctx context.Context) error { return c.repo.DeleteConversation(ctx, userID, id) },
	})
}
