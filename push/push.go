// Package push routes change notifications from a transport into caches.
//
// A transport (Redis Pub/Sub, Postgres LISTEN/NOTIFY) decodes an Event and hands
// it to a Sink. A livecache.Cache is a Sink; a Mux fans events out to several
// caches by key prefix. Event payloads are never applied directly: every event
// becomes a forced refetch of its key.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/livecache"
)

// Event announces that the server-side rows behind Key changed.
type Event struct {
	Key  string              `json:"key" msgpack:"key" cbor:"key"`
	Kind livecache.EventKind `json:"kind" msgpack:"kind" cbor:"kind"`
	// Sender identifies the publishing process. Subscribers may drop their own events.
	Sender string `json:"sender,omitempty" msgpack:"sender,omitempty" cbor:"sender,omitempty"`
}

var ErrInvalidEvent = errors.New("push: invalid event")

// Normalize lower-cases Kind (database triggers tend to send "UPDATE") and
// validates the event.
func (e *Event) Normalize() error {
	e.Kind = livecache.EventKind(strings.ToLower(string(e.Kind)))
	if e.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidEvent)
	}
	switch e.Kind {
	case livecache.EventInsert, livecache.EventUpdate, livecache.EventDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
}

// Sink receives server events. livecache.Cache[V] satisfies it for every V.
type Sink interface {
	OnServerEvent(ctx context.Context, key string, kind livecache.EventKind) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, key string, kind livecache.EventKind) error

func (f SinkFunc) OnServerEvent(ctx context.Context, key string, kind livecache.EventKind) error {
	return f(ctx, key, kind)
}

// Deliver hands ev to s. Events nobody can act on (no route, no loader yet)
// are skips, not failures: they are logged at debug level and nil is returned.
func Deliver(ctx context.Context, s Sink, ev Event, log livecache.Logger) error {
	if log == nil {
		log = livecache.NopLogger{}
	}
	err := s.OnServerEvent(ctx, ev.Key, ev.Kind)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, livecache.ErrNoLoader), errors.Is(err, ErrNoRoute):
		log.Debug("push event skipped", livecache.Fields{"key": ev.Key, "kind": string(ev.Kind), "reason": err.Error()})
		return nil
	default:
		log.Warn("push event refetch failed", livecache.Fields{"key": ev.Key, "kind": string(ev.Kind), "err": err})
		return err
	}
}
