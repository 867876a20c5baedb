package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pixperk/flowkey/pkg/client"
	"github.com/spf13/cobra"
)

// status: print a node's raft view.
func statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cluster state as seen by one node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = dialAddr(cfg.GRPCAddr)
			}
			c, err := client.NewClient(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("status of %s: %w", addr, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "node:            %s\n", st.NodeID)
			fmt.Fprintf(out, "state:           %s\n", st.State)
			fmt.Fprintf(out, "leader:          %v\n", st.IsLeader)
			fmt.Fprintf(out, "leader address:  %s\n", st.LeaderAddress)
			fmt.Fprintf(out, "cluster size:    %d\n", st.ClusterSize)
			fmt.Fprintf(out, "active locks:    %d\n", st.Locks)
			fmt.Fprintf(out, "fencing counter: %d\n", st.FencingCounter)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address of the node (defaults to the configured grpc addr)")
	return cmd
}
