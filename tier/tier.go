// Package tier puts a shared byte provider between a livecache loader and the
// backend.
//
// A wrapped loader first looks for a framed entry in the provider. A fresh enough
// entry is decoded and returned without calling the backend. On a miss, an expired
// entry or a forced refresh, the inner loader runs and its result is written
// through. The in-memory Store stays the only source the UI reads from; the tier
// only makes cold starts and sibling processes cheaper.
package tier

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/codec"
	"github.com/unkn0wn-root/livecache/internal/wire"
	"github.com/unkn0wn-root/livecache/provider"
)

var (
	ErrNoProvider = errors.New("tier: Provider is required")
	ErrNoCodec    = errors.New("tier: Codec is required")
)

type Options[V any] struct {
	// Namespace separates caches sharing one provider. Keys are stored as
	// "tier:<Namespace>:<key>".
	Namespace string
	Provider  provider.Provider
	Codec     codec.Codec[V]

	// TTL is passed to the provider on write. 0 means no expiry.
	TTL time.Duration
	// MaxAge rejects entries fetched longer ago than this. 0 accepts any age.
	MaxAge time.Duration

	// ComputeCost sizes an entry for admission-based providers. Defaults to len(frame).
	ComputeCost func(frame []byte) int64

	Logger livecache.Logger
	Clock  func() time.Time
}

type Tier[V any] struct {
	ns     string
	p      provider.Provider
	codec  codec.Codec[V]
	ttl    time.Duration
	maxAge time.Duration
	cost   func([]byte) int64
	log    livecache.Logger
	now    func() time.Time
}

func New[V any](opts Options[V]) (*Tier[V], error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}
	t := &Tier[V]{
		ns:     opts.Namespace,
		p:      opts.Provider,
		codec:  opts.Codec,
		ttl:    opts.TTL,
		maxAge: opts.MaxAge,
		cost:   opts.ComputeCost,
		log:    opts.Logger,
		now:    opts.Clock,
	}
	if t.cost == nil {
		t.cost = func(b []byte) int64 { return int64(len(b)) }
	}
	if t.log == nil {
		t.log = livecache.NopLogger{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

func (t *Tier[V]) storageKey(key string) string {
	return "tier:" + t.ns + ":" + key
}

// Wrap returns a loader for key that consults the provider before inner.
// Forced refreshes skip the read but still write through.
func (t *Tier[V]) Wrap(key string, inner livecache.Loader[V]) livecache.Loader[V] {
	return func(ctx context.Context) (V, error) {
		if !livecache.IsForced(ctx) {
			if v, ok := t.read(ctx, key); ok {
				return v, nil
			}
		}
		v, err := inner(ctx)
		if err != nil {
			return v, err
		}
		t.write(ctx, key, v)
		return v, nil
	}
}

// read never fails the fetch: provider or decode problems fall through to inner.
func (t *Tier[V]) read(ctx context.Context, key string) (V, bool) {
	var zero V
	sk := t.storageKey(key)

	raw, ok, err := t.p.Get(ctx, sk)
	if err != nil {
		t.log.Warn("tier read failed", livecache.Fields{"key": key, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}

	e, err := wire.Decode(raw)
	if err != nil {
		t.selfHeal(ctx, key, sk, err)
		return zero, false
	}
	if t.maxAge > 0 && t.now().Sub(e.FetchedAt) > t.maxAge {
		t.log.Debug("tier entry too old", livecache.Fields{"key": key, "fetched_at": e.FetchedAt})
		return zero, false
	}
	v, err := t.codec.Decode(e.Payload)
	if err != nil {
		t.selfHeal(ctx, key, sk, err)
		return zero, false
	}
	return v, true
}

func (t *Tier[V]) selfHeal(ctx context.Context, key, sk string, cause error) {
	t.log.Warn("tier entry corrupt; deleting", livecache.Fields{"key": key, "err": cause})
	if err := t.p.Del(ctx, sk); err != nil {
		t.log.Warn("tier delete failed", livecache.Fields{"key": key, "err": err})
	}
}

func (t *Tier[V]) write(ctx context.Context, key string, v V) {
	payload, err := t.codec.Encode(v)
	if err != nil {
		t.log.Warn("tier encode failed", livecache.Fields{"key": key, "err": err})
		return
	}
	frame := wire.Encode(t.now(), payload)
	ok, err := t.p.Set(ctx, t.storageKey(key), frame, t.cost(frame), t.ttl)
	switch {
	case err != nil:
		t.log.Warn("tier write failed", livecache.Fields{"key": key, "err": err})
	case !ok:
		t.log.Debug("tier write dropped", livecache.Fields{"key": key})
	}
}

// Invalidate removes key from the provider so the next unforced load goes to
// the backend. It does not touch the in-memory Store.
func (t *Tier[V]) Invalidate(ctx context.Context, key string) error {
	return t.p.Del(ctx, t.storageKey(key))
}
