package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/internal/config"
	"github.com/unkn0wn-root/livecache/push"
	"github.com/unkn0wn-root/livecache/push/pgnotify"
	"github.com/unkn0wn-root/livecache/push/redispush"
)

func publishCmd(configPath *string) *cobra.Command {
	var (
		key  string
		kind string
		via  string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Announce a change to a key",
		Long:  "Publish a change event so every livecached node refetches the key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ev := push.Event{Key: key, Kind: livecache.EventKind(kind), Sender: cfg.Push.NodeID}
			if err := ev.Normalize(); err != nil {
				return err
			}
			ctx := cmd.Context()

			switch via {
			case "redis":
				rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer rdb.Close()
				pub, err := redispush.NewPublisher(redispush.Config{Client: rdb, Channel: cfg.Push.RedisChannel, Self: cfg.Push.NodeID})
				if err != nil {
					return err
				}
				n, err := pub.Publish(ctx, ev.Key, ev.Kind)
				if err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d subscribers\n", n)
			case "postgres":
				if cfg.Push.PostgresDSN == "" {
					return fmt.Errorf("publish: push.postgres_dsn is not set")
				}
				pool, err := pgxpool.New(ctx, cfg.Push.PostgresDSN)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := pgnotify.Notify(ctx, pool, cfg.Push.PostgresChannel, ev); err != nil {
					return fmt.Errorf("notify: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "notified")
			default:
				return fmt.Errorf("unknown transport %q (want redis or postgres)", via)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "cache key, e.g. cart:u1")
	cmd.Flags().StringVar(&kind, "kind", string(livecache.EventUpdate), "insert, update or delete")
	cmd.Flags().StringVar(&via, "via", "redis", "transport: redis or postgres")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
