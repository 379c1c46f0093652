package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/backend"
	"github.com/unkn0wn-root/livecache/codec"
	"github.com/unkn0wn-root/livecache/consumers"
	asynchook "github.com/unkn0wn-root/livecache/hooks/async"
	"github.com/unkn0wn-root/livecache/hooks/prom"
	"github.com/unkn0wn-root/livecache/internal/config"
	zaplog "github.com/unkn0wn-root/livecache/log/zap"
	"github.com/unkn0wn-root/livecache/provider"
	"github.com/unkn0wn-root/livecache/provider/bigcache"
	redisprov "github.com/unkn0wn-root/livecache/provider/redis"
	"github.com/unkn0wn-root/livecache/provider/ristretto"
	"github.com/unkn0wn-root/livecache/push"
	"github.com/unkn0wn-root/livecache/push/pgnotify"
	"github.com/unkn0wn-root/livecache/push/redispush"
	"github.com/unkn0wn-root/livecache/tier"
)

// app owns every long-lived component of the service.
type app struct {
	log      *zap.Logger
	registry *prometheus.Registry

	carts    livecache.Cache[[]consumers.CartItem]
	products livecache.Cache[[]consumers.Product]
	cart     *consumers.Cart
	catalog  *consumers.Catalog
	mux      *push.Mux

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*app, error) {
	a := &app{log: zl, registry: prometheus.NewRegistry(), mux: &push.Mux{}}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *config.Config) error {
	metrics, err := prom.New(a.registry, cfg.Metrics.Namespace)
	if err != nil {
		return err
	}
	logger := zaplog.New(a.log)
	hooksFor := func(name string) livecache.Hooks {
		h := asynchook.New(metrics.For(name), 1, 1024)
		a.onClose(func(context.Context) error { h.Close(); return nil })
		return h
	}

	a.carts = livecache.New(livecache.Options[[]consumers.CartItem]{
		Name:            "cart",
		Logger:          logger,
		Hooks:           hooksFor("cart"),
		FetchTimeout:    cfg.Cache.FetchTimeout,
		MutationTimeout: cfg.Cache.MutationTimeout,
	})
	a.onClose(a.carts.Close)
	a.products = livecache.New(livecache.Options[[]consumers.Product]{
		Name:            "products",
		Logger:          logger,
		Hooks:           hooksFor("products"),
		FetchTimeout:    cfg.Cache.FetchTimeout,
		MutationTimeout: cfg.Cache.MutationTimeout,
	})
	a.onClose(a.products.Close)

	repo := consumers.NewREST(backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
		Retries: cfg.Backend.Retries,
	}))
	a.cart = consumers.NewCart(a.carts, repo)
	a.catalog = consumers.NewCatalog(a.products, repo)

	var rdb goredis.UniversalClient
	redisClient := func() goredis.UniversalClient {
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			a.onClose(func(context.Context) error { return rdb.Close() })
		}
		return rdb
	}

	if cfg.Tier.Provider != "" {
		p, err := newProvider(cfg.Tier, redisClient)
		if err != nil {
			return err
		}
		a.onClose(p.Close)
		c, err := productCodec(cfg.Tier)
		if err != nil {
			return err
		}
		t, err := tier.New(tier.Options[[]consumers.Product]{
			Namespace: "products",
			Provider:  p,
			Codec:     c,
			TTL:       cfg.Tier.TTL,
			MaxAge:    cfg.Tier.MaxAge,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		a.catalog.WithLoaderWrapper(t.Wrap)
	}

	a.mux.Handle("cart:", a.carts)
	a.mux.Handle("products:", a.products)

	if cfg.Push.Redis {
		sub, err := redispush.Subscribe(ctx, redispush.Config{
			Client:          redisClient(),
			Channel:         cfg.Push.RedisChannel,
			Self:            cfg.Push.NodeID,
			DispatchTimeout: cfg.Push.DispatchTimeout,
			Logger:          logger,
		}, a.mux)
		if err != nil {
			return fmt.Errorf("redis push: %w", err)
		}
		a.onClose(func(context.Context) error { return sub.Close() })
	}
	if cfg.Push.Postgres {
		pool, err := pgxpool.New(ctx, cfg.Push.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres push: %w", err)
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		l, err := pgnotify.Listen(ctx, pgnotify.Config{
			Pool:            pool,
			Channel:         cfg.Push.PostgresChannel,
			Self:            cfg.Push.NodeID,
			DispatchTimeout: cfg.Push.DispatchTimeout,
			Logger:          logger,
		}, a.mux)
		if err != nil {
			return fmt.Errorf("postgres push: %w", err)
		}
		a.onClose(func(context.Context) error { return l.Close() })
	}
	return nil
}

func newProvider(cfg config.TierConfig, rdb func() goredis.UniversalClient) (provider.Provider, error) {
	switch cfg.Provider {
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     cfg.MaxCostBytes,
			BufferItems: 64,
		})
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         cfg.TTL,
			HardMaxCacheSizeMB: int(cfg.MaxCostBytes >> 20),
		})
	case "redis":
		// the client is shared with push and closed by the app
		return redisprov.New(redisprov.Config{Client: rdb()})
	default:
		return nil, fmt.Errorf("tier: unknown provider %q", cfg.Provider)
	}
}

func productCodec(cfg config.TierConfig) (codec.Codec[[]consumers.Product], error) {
	var inner codec.Codec[[]consumers.Product]
	switch cfg.Codec {
	case "json":
		inner = codec.JSON[[]consumers.Product]{}
	case "msgpack":
		inner = codec.Msgpack[[]consumers.Product]{}
	case "cbor":
		c, err := codec.NewCBOR[[]consumers.Product](false)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("tier: unknown codec %q", cfg.Codec)
	}
	return codec.Limit[[]consumers.Product]{Inner: inner, MaxDecode: cfg.MaxDecodeBytes}, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close runs closers in reverse order of registration.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
