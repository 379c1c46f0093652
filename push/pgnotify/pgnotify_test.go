package pgnotify

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/push"
)

type chanSink chan push.Event

func (c chanSink) OnServerEvent(_ context.Context, key string, kind livecache.EventKind) error {
	c <- push.Event{Key: key, Kind: kind}
	return nil
}

type recordingExecer struct {
	sql  string
	args []any
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LIVECACHE_PG_DSN")
	if dsn == "" {
		t.Skip("LIVECACHE_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("Postgres not available, skipping: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Postgres not available, skipping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestListenValidatesConfig(t *testing.T) {
	if _, err := Listen(context.Background(), Config{}, make(chanSink)); !errors.Is(err, ErrNilPool) {
		t.Fatalf("expected ErrNilPool, got %v", err)
	}
}

func TestNotifyEncodesEvent(t *testing.T) {
	var q recordingExecer
	err := Notify(context.Background(), &q, "", push.Event{Key: "cart:u1", Kind: "UPDATE", Sender: "api"})
	if err != nil {
		t.Fatal(err)
	}
	if q.sql != "SELECT pg_notify($1, $2)" || q.args[0] != DefaultChannel {
		t.Fatalf("sql=%q args=%v", q.sql, q.args)
	}
	if q.args[1] != `{"key":"cart:u1","kind":"update","sender":"api"}` {
		t.Fatalf("payload = %v", q.args[1])
	}
	if err := Notify(context.Background(), &q, "", push.Event{Kind: "update"}); !errors.Is(err, push.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestListenerDeliversNotifications(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	channel := "livecache_test_events"

	sink := make(chanSink, 4)
	l, err := Listen(ctx, Config{Pool: pool, Channel: channel, Self: "me"}, sink)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if err := Notify(ctx, pool, channel, push.Event{Key: "bag:u1", Kind: "insert", Sender: "me"}); err != nil {
		t.Fatal(err)
	}
	// raw trigger-style payload
	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, `{"key":"bag:u2","kind":"DELETE"}`); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sink:
		if ev.Key != "bag:u2" || ev.Kind != livecache.EventDelete {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("notification not delivered")
	}
}
