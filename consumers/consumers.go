// Package consumers holds the feature-level state containers built on livecache:
// the cart, the unified bag, AI conversations, the product catalog and stores.
//
// Each consumer owns its key scheme, its loaders and its mutation transforms.
// All transforms are copy-on-write: the previous snapshot may still be held by
// a listener or a pending rollback, so it is never modified in place.
package consumers

import (
	"errors"
	"slices"

	"github.com/unkn0wn-root/livecache"
)

var (
	ErrItemNotFound = errors.New("consumers: item not found")
	ErrInvalid      = errors.New("consumers: invalid argument")
)

// created returns v only if the create it describes reached the server: on a
// revert the provisional item is already gone from the cache.
func created[T any](v T, err error) (T, error) {
	var me *livecache.MutationError
	if err == nil || (errors.As(err, &me) && me.Status == livecache.StatusCommitted) {
		return v, err
	}
	var zero T
	return zero, err
}

// replaceByID returns a copy of list with the element matching id replaced by fn(old).
func replaceByID[T any](list []T, id string, idOf func(T) string, fn func(T) T) []T {
	next := slices.Clone(list)
	for i := range next {
		if idOf(next[i]) == id {
			next[i] = fn(next[i])
		}
	}
	return next
}

// removeByID returns a copy of list without the elements matching id.
func removeByID[T any](list []T, id string, idOf func(T) string) []T {
	return slices.DeleteFunc(slices.Clone(list), func(v T) bool { return idOf(v) == id })
}

func containsID[T any](list []T, id string, idOf func(T) string) bool {
	return slices.ContainsFunc(list, func(v T) bool { return idOf(v) == id })
}

// watch subscribes fn to key and replays the current snapshot, if any.
// A write racing with the replay can reach fn before the replay does; fn
// should treat every call as "the latest state".
func watch[T any](c livecache.Cache[T], key string, fn func(T)) (stop func()) {
	stop = c.Subscribe(key, func(v T, ok bool) {
		if ok {
			fn(v)
		}
	})
	if v, ok := c.Get(key); ok {
		fn(v)
	}
	return stop
}
