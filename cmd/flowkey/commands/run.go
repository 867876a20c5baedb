package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixperk/flowkey/pkg/flow"
	"github.com/pixperk/flowkey/pkg/progress"
	"github.com/spf13/cobra"
)

// run: execute a synthetic flow and stream its progress, to check the
// tracking service wiring end to end.
func runCmd() *cobra.Command {
	var (
		runID      string
		handlerID  string
		updateType string
		steps      int
		parallel   int
		delay      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic flow and report its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := progress.ParseUpdateType(updateType)
			if err != nil {
				return err
			}
			if steps < 1 {
				return fmt.Errorf("--steps must be >= 1")
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			sink, err := progressSink()
			if err != nil {
				return err
			}

			meta := progress.Meta{UpdateType: kind}
			if handlerID != "" {
				meta.WorkerHandlerID = &handlerID
			}

			f := flow.Sequential("synthetic")
			for i := 1; i <= steps; i++ {
				f.Stages = append(f.Stages, flow.Stage{delayStep(fmt.Sprintf("step_%d", i), delay)})
			}
			if parallel > 0 {
				var fan flow.Stage
				for i := 1; i <= parallel; i++ {
					fan = append(fan, delayStep(fmt.Sprintf("branch_%d", i), delay))
				}
				f.Stages = append(f.Stages, fan)
			}

			e := flow.NewExecutor(progress.NewDispatcher(sink, progress.WithLogger(logger)), flow.WithLogger(logger))
			snap, err := e.Run(cmd.Context(), runID, f, meta)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated if empty)")
	cmd.Flags().StringVar(&handlerID, "handler-id", "", "worker handler id forwarded with every update")
	cmd.Flags().StringVar(&updateType, "update-type", string(progress.UpdateNone), "WEBHOOK_RESPONSE, TEST_FLOW or NONE")
	cmd.Flags().IntVar(&steps, "steps", 3, "number of sequential steps")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "number of steps in a final parallel stage")
	cmd.Flags().DurationVar(&delay, "delay", 100*time.Millisecond, "time each step takes")
	return cmd
}

// posts to the tracking service when one is configured, otherwise logs
func progressSink() (progress.Sink, error) {
	if cfg.InternalAPIURL != "" {
		return progress.NewHTTPSink(cfg.InternalAPIURL, cfg.EngineToken)
	}
	return progress.SinkFunc(func(_ context.Context, u progress.Update) error {
		logger.Info("run progress",
			"run_id", u.RunID,
			"status", u.RunDetails.Status,
			"steps", len(u.RunDetails.Steps),
			"tasks", u.RunDetails.TasksUsed,
		)
		return nil
	}), nil
}

func delayStep(name string, d time.Duration) flow.Step {
	return flow.Step{
		Name: name,
		Type: "DELAY",
		Run: func(ctx context.Context) (any, error) {
			select {
			case <-time.After(d):
				return map[string]any{"step": name, "waited": d.String()}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}
