package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/livecache/internal/config"
)

func serveCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.HTTP.Addr = listenAddr
			}
			zl, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, zl)
			if err != nil {
				return err
			}
			e := newRouter(a)

			errCh := make(chan error, 1)
			go func() {
				zl.Info("livecached started", zap.String("addr", cfg.HTTP.Addr), zap.String("tier", cfg.Tier.Provider))
				if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				zl.Info("shutdown signal received")
			case err := <-errCh:
				_ = a.close(context.Background())
				return fmt.Errorf("http server: %w", err)
			}

			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(sctx); err != nil {
				zl.Warn("http shutdown", zap.Error(err))
			}
			return a.close(sctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides http.addr)")
	return cmd
}
