package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixperk/flowkey/pkg/plan"
	"github.com/pixperk/flowkey/pkg/plan/postgres"
	"github.com/spf13/cobra"
)

const dbPingTimeout = 2 * time.Second

// plan: inspect project plans in the configured database.
func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect project plans",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Create the project_plan table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(cmd.Context(), func(ctx context.Context, s *postgres.Store) error {
				if err := s.EnsureSchema(ctx); err != nil {
					return err
				}
				logger.Info("plan schema ready")
				return nil
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <project-id>",
		Short: "Print the plan of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(cmd.Context(), func(ctx context.Context, s *postgres.Store) error {
				p, err := s.Find(ctx, args[0])
				if err != nil {
					return err
				}
				return printPlan(cmd, p)
			})
		},
	}

	byCustomer := &cobra.Command{
		Use:   "by-customer <customer-id>",
		Short: "Print the plan billed to a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(cmd.Context(), func(ctx context.Context, s *postgres.Store) error {
				p, err := s.FindByCustomerID(ctx, args[0])
				if err != nil {
					return err
				}
				return printPlan(cmd, p)
			})
		},
	}

	cmd.AddCommand(schema, get, byCustomer)
	return cmd
}

func withPlanStore(ctx context.Context, fn func(context.Context, *postgres.Store) error) error {
	db, err := postgres.Open(ctx, cfg.DatabaseURL, dbPingTimeout)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)
	return fn(ctx, postgres.New(db))
}

func printPlan(cmd *cobra.Command, p plan.Plan) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
