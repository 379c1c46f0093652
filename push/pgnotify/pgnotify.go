// Package pgnotify carries push events over Postgres LISTEN/NOTIFY.
//
// A trigger (or any writer) runs pg_notify('<channel>', '{"key":"cart:u1","kind":"UPDATE"}')
// and every Listener refetches the key. The listening connection is taken out of
// the pool for the Listener's lifetime and replaced after a connection failure.
package pgnotify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/codec"
	"github.com/unkn0wn-root/livecache/push"
)

const (
	DefaultChannel = "livecache_events"
	defaultBackoff = time.Second
)

var (
	ErrNilPool = errors.New("pgnotify: nil pool")
	ErrNilSink = errors.New("pgnotify: nil sink")
)

type Config struct {
	Pool    *pgxpool.Pool
	Channel string
	Codec   codec.Codec[push.Event] // defaults to JSON; NOTIFY payloads are text
	Self    string                  // events sent by Self are ignored

	// Backoff is the pause before reconnecting after the listening connection fails.
	Backoff         time.Duration
	DispatchTimeout time.Duration
	Logger          livecache.Logger
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Codec == nil {
		c.Codec = codec.JSON[push.Event]{}
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.Logger == nil {
		c.Logger = livecache.NopLogger{}
	}
	return c
}

type Listener struct {
	cfg  Config
	sink push.Sink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Listen acquires a connection, issues LISTEN and starts dispatching. The first
// LISTEN must succeed; later failures are retried in the background.
func Listen(ctx context.Context, cfg Config, sink push.Sink) (*Listener, error) {
	if cfg.Pool == nil {
		return nil, ErrNilPool
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg = cfg.withDefaults()

	conn, err := listenConn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &Listener{cfg: cfg, sink: sink, ctx: lctx, cancel: cancel, done: make(chan struct{})}
	go l.loop(conn)
	return l, nil
}

func listenConn(ctx context.Context, cfg Config) (*pgxpool.Conn, error) {
	conn, err := cfg.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{cfg.Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func (l *Listener) loop(conn *pgxpool.Conn) {
	defer close(l.done)
	log := l.cfg.Logger
	for {
		if conn == nil {
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(l.cfg.Backoff):
			}
			c, err := listenConn(l.ctx, l.cfg)
			if err != nil {
				if l.ctx.Err() == nil {
					log.Warn("pgnotify: reconnect failed", livecache.Fields{"channel": l.cfg.Channel, "err": err})
				}
				continue
			}
			log.Info("pgnotify: listening again", livecache.Fields{"channel": l.cfg.Channel})
			conn = c
		}

		n, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			// a cancelled wait leaves the connection in an unknown state
			_ = conn.Conn().Close(context.Background())
			conn.Release()
			conn = nil
			if l.ctx.Err() != nil {
				return
			}
			log.Warn("pgnotify: connection lost", livecache.Fields{"channel": l.cfg.Channel, "err": err})
			continue
		}
		l.handle(n.Payload)
	}
}

func (l *Listener) handle(payload string) {
	ev, err := l.cfg.Codec.Decode([]byte(payload))
	if err == nil {
		err = ev.Normalize()
	}
	if err != nil {
		l.cfg.Logger.Warn("pgnotify: dropping undecodable event", livecache.Fields{"channel": l.cfg.Channel, "err": err})
		return
	}
	if l.cfg.Self != "" && ev.Sender == l.cfg.Self {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := l.ctx, context.CancelFunc(func() {})
		if l.cfg.DispatchTimeout > 0 {
			ctx, cancel = context.WithTimeout(l.ctx, l.cfg.DispatchTimeout)
		}
		defer cancel()
		_ = push.Deliver(ctx, l.sink, ev, l.cfg.Logger)
	}()
}

// Close stops listening and waits for in-flight dispatches.
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		l.wg.Wait()
	})
	return nil
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Notify sends ev with pg_notify. Inside a transaction the event is delivered
// only if the transaction commits. An empty channel means DefaultChannel.
func Notify(ctx context.Context, q Execer, channel string, ev push.Event) error {
	if channel == "" {
		channel = DefaultChannel
	}
	if err := ev.Normalize(); err != nil {
		return err
	}
	b, err := codec.JSON[push.Event]{}.Encode(ev)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(b))
	return err
}
