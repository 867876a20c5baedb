package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixperk/flowkey/pkg/client"
	"github.com/pixperk/flowkey/pkg/config"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/lock/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// acquire: take a lock, hold it for a while with keep-alive, then release.
func acquireCmd() *cobra.Command {
	var (
		addr    string
		hold    time.Duration
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "acquire <key>",
		Short: "Acquire a lock, hold it, and release it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openLockStore(addr)
			if err != nil {
				return err
			}
			defer closeStore()

			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.LockTimeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := lock.NewManager(store, lock.WithTTL(cfg.LockTTL), lock.WithLogger(logger))
			l, err := m.Acquire(ctx, args[0], timeout)
			if err != nil {
				return err
			}
			defer l.Release(context.WithoutCancel(ctx))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "acquired %s (holder %s, fencing token %d, expires %s)\n",
				l.Key(), l.Holder(), l.Token(), l.ExpiresAt().Format(time.RFC3339Nano))

			stopRenew, lost := m.KeepAlive(ctx, l)
			defer stopRenew()

			select {
			case <-time.After(hold):
			case <-ctx.Done():
			case <-lost:
				return fmt.Errorf("lost %s before the hold elapsed", l.Key())
			}
			fmt.Fprintf(out, "releasing %s\n", l.Key())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address of a node, for the raft backend")
	cmd.Flags().DurationVar(&hold, "hold", 5*time.Second, "how long to hold the lock")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the lock (defaults to the configured lock timeout)")
	return cmd
}

// builds the lock store selected by the configured backend
func openLockStore(addr string) (lock.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redislock.New(rdb, redislock.WithLogger(logger)), func() { rdb.Close() }, nil
	case config.BackendMemory:
		return lock.NewMemoryStore(nil), func() {}, nil
	default:
		if addr == "" {
			addr = dialAddr(cfg.GRPCAddr)
		}
		c, err := client.NewClient(addr)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
}
