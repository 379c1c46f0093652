package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "livecached",
		Short: "Reactive cache service",
		Long:  "Serve cached carts and products over HTTP and keep them fresh from change events",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (LIVECACHE_* env vars override it)")

	rootCmd.AddCommand(serveCmd(&configPath), publishCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
