package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type cartRow struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

func TestListSendsFiltersAndAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/cart_items" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user_id") != "eq.u1" || q.Get("order") != "created_at.desc" {
			t.Errorf("query = %v", q)
		}
		if r.Header.Get("Authorization") != "Bearer user-token" || r.Header.Get("apikey") != "anon" {
			t.Errorf("headers = %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]cartRow{{UserID: "u1", ItemID: "i1", Qty: 2}})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL + "/", APIKey: "anon", Token: "service"})
	var rows []cartRow
	err := c.List(context.Background(), "cart_items", Filter{"user_id": "u1"}, &rows,
		OrderBy("created_at", true), WithBearer("user-token"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].Qty != 2 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestInsertRequestsRepresentation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("[" + string(body) + "]"))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	var out []cartRow
	if err := c.Insert(context.Background(), "cart_items", cartRow{UserID: "u1", ItemID: "i9", Qty: 1}, &out); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(out) != 1 || out[0].ItemID != "i9" {
		t.Fatalf("out = %+v", out)
	}
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	err := c.Patch(context.Background(), "cart_items", Filter{"item_id": "i1"}, map[string]int{"qty": 3}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden || se.Method != http.MethodPatch || se.Temporary() {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
}

func TestUnfilteredWritesAreRefused(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	ctx := context.Background()
	if err := c.Delete(ctx, "cart_items", nil); !errors.Is(err, ErrUnfiltered) {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Patch(ctx, "cart_items", Filter{}, map[string]int{}, nil); !errors.Is(err, ErrUnfiltered) {
		t.Fatalf("Patch: %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Retries: 3, Timeout: 2 * time.Second})
	if err := c.Delete(context.Background(), "cart_items", Filter{"item_id": "i1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
}
