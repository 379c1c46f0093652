package consumers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/backend"
)

type request struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

func newRecordingServer(t *testing.T, respond func(r *http.Request) any) (*httptest.Server, func() []request) {
	t.Helper()
	var mu sync.Mutex
	var reqs []request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if out := respond(r); out != nil {
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)
	return ts, func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), reqs...)
	}
}

func TestRESTCartFlow(t *testing.T) {
	ctx := context.Background()
	var qty atomic.Int32
	qty.Store(2)
	ts, requests := newRecordingServer(t, func(r *http.Request) any {
		if r.Method == http.MethodGet {
			return []CartItem{{ID: "i1", ProductID: "p1", Qty: int(qty.Load())}}
		}
		if r.Method == http.MethodPatch {
			qty.Store(3)
		}
		return nil
	})

	c := livecache.New[[]CartItem](livecache.Options[[]CartItem]{})
	defer c.Close(ctx)
	cart := NewCart(c, NewREST(backend.New(backend.Config{BaseURL: ts.URL})))

	if _, err := cart.Load(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := cart.Increment(ctx, "u1", "i1"); err != nil {
		t.Fatal(err)
	}

	reqs := requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Path != "/"+TableCart || reqs[0].Query != "order=created_at.asc&user_id=eq.u1" {
		t.Fatalf("list request = %+v", reqs[0])
	}
	if reqs[1].Method != http.MethodPatch || reqs[1].Body["qty"] != float64(3) {
		t.Fatalf("patch request = %+v", reqs[1])
	}
	if reqs[2].Method != http.MethodGet {
		t.Fatalf("expected reconcile GET, got %+v", reqs[2])
	}
}

func TestRESTInsertCarriesOwner(t *testing.T) {
	ts, requests := newRecordingServer(t, func(*http.Request) any { return nil })
	r := NewREST(backend.New(backend.Config{BaseURL: ts.URL}))

	err := r.CreateConversation(context.Background(), "u7", Conversation{ID: "c1", Title: "Hi"})
	if err != nil {
		t.Fatal(err)
	}
	req := requests()[0]
	if req.Method != http.MethodPost || req.Path != "/"+TableConversations {
		t.Fatalf("request = %+v", req)
	}
	if req.Body["user_id"] != "u7" || req.Body["id"] != "c1" || req.Body["title"] != "Hi" {
		t.Fatalf("body = %v", req.Body)
	}
}
