// Package sloghooks reports livecache hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/livecache"
)

type Options struct {
	// Sampling for the high-volume events; 0/1 = log all.
	StartEvery uint64
	JoinEvery  uint64
	// Redact rewrites keys before logging. Keys carry user ids, so the default
	// is a SHA-256 prefix. Use an identity func to log keys verbatim.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	startCtr atomic.Uint64
	joinCtr  atomic.Uint64
}

var _ livecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key string, forced bool) {
	if h.l == nil || !sample(h.opts.StartEvery, &h.startCtr) {
		return
	}
	h.l.Debug("livecache.fetch_started", "key", h.redact(key), "forced", forced)
}

func (h *Hooks) FetchJoined(key string) {
	if h.l == nil || !sample(h.opts.JoinEvery, &h.joinCtr) {
		return
	}
	h.l.Debug("livecache.fetch_joined", "key", h.redact(key))
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("livecache.fetch_failed", "key", h.redact(key), "err", err)
}

func (h *Hooks) MutationCommitted(key string, reconciled bool) {
	if h.l == nil {
		return
	}
	h.l.Debug("livecache.mutation_committed", "key", h.redact(key), "reconciled", reconciled)
}

func (h *Hooks) MutationReverted(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("livecache.mutation_reverted", "key", h.redact(key), "err", err)
}

func (h *Hooks) ServerEvent(key string, kind livecache.EventKind, handled bool) {
	if h.l == nil {
		return
	}
	h.l.Debug("livecache.server_event", "key", h.redact(key), "kind", string(kind), "handled", handled)
}

func (h *Hooks) ListenerPanic(key string, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("livecache.listener_panic", "key", h.redact(key), "panic", recovered)
}
