package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	pb "github.com/pixperk/flowkey/api/v1"
	"github.com/pixperk/flowkey/pkg/backoff"
	"github.com/pixperk/flowkey/pkg/client"
	"github.com/pixperk/flowkey/pkg/config"
	"github.com/pixperk/flowkey/pkg/gateway"
	"github.com/pixperk/flowkey/pkg/raft"
	"github.com/pixperk/flowkey/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const joinTimeout = 2 * time.Minute

// serve: run a raft lock node with its gRPC service and HTTP gateway.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a lock service node",
		RunE: func(cmd *cobra.Command, args []string) error {
			for flag, dst := range map[string]*string{
				"node-id":        &cfg.NodeID,
				"raft-addr":      &cfg.RaftAddr,
				"advertise-addr": &cfg.AdvertiseAddr,
				"grpc-addr":      &cfg.GRPCAddr,
				"http-addr":      &cfg.HTTPAddr,
				"data-dir":       &cfg.DataDir,
				"join":           &cfg.JoinAddr,
			} {
				override(cmd, flag, dst)
			}
			if cmd.Flags().Changed("bootstrap") {
				cfg.Bootstrap, _ = cmd.Flags().GetBool("bootstrap")
			}
			cfg.Backend = config.BackendRaft
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}

	cmd.Flags().String("node-id", "", "unique node ID (generated if empty)")
	cmd.Flags().String("raft-addr", "", "raft bind address")
	cmd.Flags().String("advertise-addr", "", "raft address peers dial, defaults to the bind address")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address")
	cmd.Flags().String("http-addr", "", "HTTP gateway and metrics address")
	cmd.Flags().String("data-dir", "", "raft data directory")
	cmd.Flags().Bool("bootstrap", false, "bootstrap a new cluster")
	cmd.Flags().String("join", "", "gRPC address of a cluster member to join through")
	return cmd
}

func serve(ctx context.Context) error {
	nodeID, generated, err := cfg.NodeUUID()
	if err != nil {
		return err
	}
	if generated {
		logger.Info("generated node id", "node_id", nodeID.String())
	}

	logger.Info("starting flowkey node",
		"node_id", nodeID.String(),
		"raft_addr", cfg.RaftAddr,
		"grpc_addr", cfg.GRPCAddr,
		"http_addr", cfg.HTTPAddr,
		"data_dir", cfg.DataDir,
		"bootstrap", cfg.Bootstrap,
	)

	node, err := raft.NewNode(&raft.Config{
		NodeID:        nodeID,
		BindAddr:      cfg.RaftAddr,
		AdvertiseAddr: cfg.AdvertiseAddr,
		DataDir:       cfg.DataDir,
		Bootstrap:     cfg.Bootstrap,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create raft node: %w", err)
	}
	defer node.Shutdown()

	grpcServer := grpc.NewServer()
	pb.RegisterLockServiceServer(grpcServer, server.NewServer(node, logger))

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	gw := gateway.NewServer(cfg.HTTPAddr, dialAddr(cfg.GRPCAddr), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		logger.Info("HTTP gateway listening", "addr", cfg.HTTPAddr)
		return gw.Start(gctx)
	})
	if cfg.JoinAddr != "" {
		g.Go(func() error {
			raftAddr := cfg.AdvertiseAddr
			if raftAddr == "" {
				raftAddr = cfg.RaftAddr
			}
			return join(gctx, cfg.JoinAddr, nodeID.String(), raftAddr)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Warn("gateway shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// asks the member at addr to add this node, retrying until the cluster has
// a leader that accepts the request
func join(ctx context.Context, addr, nodeID, raftAddr string) error {
	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	strategy := backoff.NewExponentialWithJitter(200*time.Millisecond, 5*time.Second)
	for attempt := 1; ; attempt++ {
		err := c.Join(ctx, nodeID, raftAddr)
		if err == nil {
			logger.Info("joined cluster", "via", addr, "attempts", attempt)
			return nil
		}
		logger.Warn("join attempt failed", "via", addr, "attempt", attempt, "error", err)

		select {
		case <-time.After(strategy.Delay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("join cluster via %s: %w", addr, ctx.Err())
		}
	}
}
