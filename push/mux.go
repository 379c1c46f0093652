package push

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/unkn0wn-root/livecache"
)

var ErrNoRoute = errors.New("push: no sink for key")

type route struct {
	prefix string
	sink   Sink
}

// Mux routes events to the sink registered for the longest matching key prefix.
// The zero value is ready to use.
type Mux struct {
	mu     sync.RWMutex
	routes []route // longest prefix first
}

// Handle registers s for keys starting with prefix, replacing any previous
// sink for the same prefix.
func (m *Mux) Handle(prefix string, s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.routes {
		if m.routes[i].prefix == prefix {
			m.routes[i].sink = s
			return
		}
	}
	m.routes = append(m.routes, route{prefix: prefix, sink: s})
	sort.SliceStable(m.routes, func(i, j int) bool {
		return len(m.routes[i].prefix) > len(m.routes[j].prefix)
	})
}

func (m *Mux) match(key string) (Sink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.routes {
		if strings.HasPrefix(key, r.prefix) {
			return r.sink, true
		}
	}
	return nil, false
}

// OnServerEvent implements Sink.
func (m *Mux) OnServerEvent(ctx context.Context, key string, kind livecache.EventKind) error {
	s, ok := m.match(key)
	if !ok {
		return ErrNoRoute
	}
	return s.OnServerEvent(ctx, key, kind)
}

// Prefixes returns the registered prefixes, longest first.
func (m *Mux) Prefixes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.routes))
	for i, r := range m.routes {
		out[i] = r.prefix
	}
	return out
}
