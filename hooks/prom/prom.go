// Package prom exports livecache hook events as Prometheus counters.
//
// Keys are reduced to their keyspace (the part before the first ':') so
// per-user keys such as "cart:u1" do not explode label cardinality.
package prom

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/livecache"
)

// Metrics owns the collectors. Create one per process and hand out per-cache
// Hooks with For.
type Metrics struct {
	fetches        *prometheus.CounterVec
	joins          *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	serverEvents   *prometheus.CounterVec
	listenerPanics *prometheus.CounterVec
}

func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Loader invocations started, by forced refresh or not.",
		}, []string{"cache", "keyspace", "forced"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_joins_total",
			Help:      "Callers that joined a fetch already in flight.",
		}, []string{"cache", "keyspace"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Loader invocations that returned an error.",
		}, []string{"cache", "keyspace"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Settled optimistic mutations by outcome.",
		}, []string{"cache", "keyspace", "outcome"}),
		serverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_events_total",
			Help:      "Push events received, by kind and whether a loader was known.",
		}, []string{"cache", "keyspace", "kind", "handled"}),
		listenerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Listeners that panicked during notification.",
		}, []string{"cache", "keyspace"}),
	}
	for _, c := range []prometheus.Collector{m.fetches, m.joins, m.fetchFailures, m.mutations, m.serverEvents, m.listenerPanics} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom: register: %w", err)
		}
	}
	return m, nil
}

// For returns Hooks labelled with cache.
func (m *Metrics) For(cache string) livecache.Hooks {
	return &hooks{m: m, cache: cache}
}

func keyspace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

type hooks struct {
	m     *Metrics
	cache string
}

func (h *hooks) FetchStarted(key string, forced bool) {
	h.m.fetches.WithLabelValues(h.cache, keyspace(key), fmt.Sprint(forced)).Inc()
}

func (h *hooks) FetchJoined(key string) {
	h.m.joins.WithLabelValues(h.cache, keyspace(key)).Inc()
}

func (h *hooks) FetchFailed(key string, _ error) {
	h.m.fetchFailures.WithLabelValues(h.cache, keyspace(key)).Inc()
}

func (h *hooks) MutationCommitted(key string, reconciled bool) {
	outcome := "committed"
	if reconciled {
		outcome = "reconciled"
	}
	h.m.mutations.WithLabelValues(h.cache, keyspace(key), outcome).Inc()
}

func (h *hooks) MutationReverted(key string, _ error) {
	h.m.mutations.WithLabelValues(h.cache, keyspace(key), "reverted").Inc()
}

func (h *hooks) ServerEvent(key string, kind livecache.EventKind, handled bool) {
	h.m.serverEvents.WithLabelValues(h.cache, keyspace(key), string(kind), fmt.Sprint(handled)).Inc()
}

func (h *hooks) ListenerPanic(key string, _ any) {
	h.m.listenerPanics.WithLabelValues(h.cache, keyspace(key)).Inc()
}
