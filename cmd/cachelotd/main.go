// Command cachelotd runs a cachelot server: an in-memory, memcached
// ASCII protocol compatible cache with a fixed-size arena and
// hot/warm/cold item eviction.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caidongyun/cachelot/cache"
	"github.com/caidongyun/cachelot/log"
	"github.com/caidongyun/cachelot/recycle"

	"github.com/caidongyun/cachelot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envIntDefault lets a flag's default be overridden by an environment
// variable, so a flag left unset on the command line still picks up
// deployment-level configuration.
func envIntDefault(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var (
		addr          string
		arenaSize     int
		stripes       int
		expectedItems int
		maxItemSize   int
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "cachelotd",
		Short: "Run a cachelot cache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.LevelFromString(logLevel)
			if err != nil {
				return err
			}
			logger := log.NewLogger(level, os.Stdout)

			pool := recycle.NewPool()
			c, err := cache.New(cache.Config{
				ArenaSize:     arenaSize,
				StripeCount:   stripes,
				ExpectedItems: expectedItems,
				Pool:          pool,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			srv := cachelot.NewServer(cachelot.Config{
				Addr:         addr,
				Cache:        c,
				Pool:         pool,
				Logger:       logger,
				MaxValueSize: maxItemSize,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Infof("listening on %s", addr)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "listen", ":11211", "address to listen on")
	cmd.Flags().IntVar(&arenaSize, "arena-size", 64<<20, "total bytes of item storage across all stripes")
	cmd.Flags().IntVar(&stripes, "stripes", 16, "number of cache shards (rounded up to a power of two)")
	cmd.Flags().IntVar(&expectedItems, "expected-items", 100000, "hint used to size the hot/warm/cold split")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "one of DEBUG, INFO, WARN, ERROR, FATAL")
	cmd.Flags().IntVar(&maxItemSize, "max-item-size", envIntDefault("CACHELOTD_MAX_ITEM_SIZE", cachelot.DefaultMaxValueSize), "max bytes accepted in a single storage value")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(cachelot.ServerVersion)
			return nil
		},
	}
}
