// Package redispush carries push events over Redis Pub/Sub.
//
// Any process that writes to the backend publishes an Event on a shared channel;
// every livecache process subscribed to that channel refetches the key.
package redispush

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/codec"
	"github.com/unkn0wn-root/livecache/push"
)

// DefaultChannel is used when Config.Channel is empty.
const DefaultChannel = "livecache:events"

var (
	ErrNilClient = errors.New("redispush: nil client")
	ErrNilSink   = errors.New("redispush: nil sink")
)

type Config struct {
	Client  goredis.UniversalClient
	Channel string
	Codec   codec.Codec[push.Event] // defaults to JSON

	// Self is this process's sender id. Subscribers ignore events whose Sender
	// equals Self; publishers stamp it on outgoing events.
	Self string

	// DispatchTimeout bounds each refetch started by an event. 0 = no bound.
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
	if c.Logger == nil {
		c.Logger = livecache.NopLogger{}
	}
	return c
}

// Subscriber dispatches every event received on the channel to a Sink.
// Each event is dispatched on its own goroutine so a slow refetch for one key
// does not delay events for other keys; the Fetcher coalesces duplicates.
type Subscriber struct {
	cfg  Config
	sink push.Sink
	ps   *goredis.PubSub

	base   context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup // dispatches
	loopDone chan struct{}
	once     sync.Once
}

// Subscribe subscribes to the channel and starts dispatching. It returns once
// Redis has confirmed the subscription.
func Subscribe(ctx context.Context, cfg Config, sink push.Sink) (*Subscriber, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg = cfg.withDefaults()

	ps := cfg.Client.Subscribe(ctx, cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Subscriber{
		cfg:      cfg,
		sink:     sink,
		ps:       ps,
		base:     base,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Subscriber) loop() {
	defer close(s.loopDone)
	for msg := range s.ps.Channel() {
		s.handle(msg.Payload)
	}
}

func (s *Subscriber) handle(payload string) {
	log := s.cfg.Logger
	ev, err := s.cfg.Codec.Decode([]byte(payload))
	if err == nil {
		err = ev.Normalize()
	}
	if err != nil {
		log.Warn("redispush: dropping undecodable event", livecache.Fields{"channel": s.cfg.Channel, "err": err})
		return
	}
	if s.cfg.Self != "" && ev.Sender == s.cfg.Self {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.base, context.CancelFunc(func() {})
		if s.cfg.DispatchTimeout > 0 {
			ctx, cancel = context.WithTimeout(s.base, s.cfg.DispatchTimeout)
		}
		defer cancel()
		_ = push.Deliver(ctx, s.sink, ev, log)
	}()
}

// Close unsubscribes, cancels outstanding dispatches and waits for them to
// return. Safe to call more than once.
func (s *Subscriber) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.loopDone
		s.cancel()
		s.wg.Wait()
	})
	return err
}

// Publisher emits events on the channel.
type Publisher struct {
	cfg Config
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Publisher{cfg: cfg.withDefaults()}, nil
}

// Publish announces a change to key. It returns the number of subscribers
// that received the message.
func (p *Publisher) Publish(ctx context.Context, key string, kind livecache.EventKind) (int64, error) {
	ev := push.Event{Key: key, Kind: kind, Sender: p.cfg.Self}
	if err := ev.Normalize(); err != nil {
		return 0, err
	}
	b, err := p.cfg.Codec.Encode(ev)
	if err != nil {
		return 0, err
	}
	return p.cfg.Client.Publish(ctx, p.cfg.Channel, b).Result()
}
