// Package flow runs a flow's steps and reports progress after every step.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixperk/flowkey/pkg/execution"
	"github.com/pixperk/flowkey/pkg/progress"
	"golang.org/x/sync/errgroup"
)

type StepFunc func(ctx context.Context) (any, error)

type Step struct {
	Name string
	Type string
	Run  StepFunc
	// recorded as skipped and not billed
	Skip bool
}

// Stage is a group of steps started together. A stage with more than one
// step runs its steps in parallel; the next stage starts once all finished.
type Stage []Step

type Flow struct {
	Name   string
	Stages []Stage
}

// Sequential builds a flow that runs steps one after another.
func Sequential(name string, steps ...Step) Flow {
	f := Flow{Name: name}
	for _, s := range steps {
		f.Stages = append(f.Stages, Stage{s})
	}
	return f
}

type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

type Executor struct {
	dispatcher *progress.Dispatcher
	logger     *slog.Logger
}

func NewExecutor(d *progress.Dispatcher, opts ...Option) *Executor {
	e := &Executor{dispatcher: d, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes f as run runID. A failing step fails the run and skips the
// remaining stages. Progress delivery failures are logged and never stop
// the run.
func (e *Executor) Run(ctx context.Context, runID string, f Flow, meta progress.Meta) (execution.Snapshot, error) {
	acc := execution.NewAccumulator(runID)
	logger := e.logger.With("run_id", runID, "flow", f.Name)

	for i, stage := range f.Stages {
		g, gctx := errgroup.WithContext(ctx)
		for _, step := range stage {
			step := step
			g.Go(func() error {
				result, err := runStep(gctx, step)
				acc.RecordStep(result)
				if result.Status == execution.StepSucceeded {
					acc.IncrementTasks(1)
				}
				e.report(ctx, logger, runID, acc, meta)
				if err != nil {
					return fmt.Errorf("step %s: %w", step.Name, err)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			status := execution.RunFailed
			if ctx.Err() != nil {
				status = execution.RunStopped
			}
			logger.Warn("run ended early", "stage", i, "status", status, "error", err)
			acc.SetStatus(status, err)
			//the final status goes out even when the run was cancelled
			e.report(context.WithoutCancel(ctx), logger, runID, acc, meta)
			return acc.Snapshot(), err
		}
	}

	acc.SetStatus(execution.RunSucceeded, nil)
	e.report(ctx, logger, runID, acc, meta)
	logger.Info("run succeeded", "steps", acc.Steps())
	return acc.Snapshot(), nil
}

func (e *Executor) report(ctx context.Context, logger *slog.Logger, runID string, acc *execution.Accumulator, meta progress.Meta) {
	if err := e.dispatcher.Submit(ctx, runID, acc, meta); err != nil {
		logger.Warn("progress update not delivered", "error", err)
	}
}

func runStep(ctx context.Context, step Step) (execution.StepResult, error) {
	result := execution.StepResult{
		Name:      step.Name,
		Type:      step.Type,
		StartedAt: time.Now(),
	}
	if step.Skip {
		result.Status = execution.StepSkipped
		return result, nil
	}

	output, err := step.Run(ctx)
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		result.Status = execution.StepFailed
		result.ErrorMessage = err.Error()
		return result, err
	}

	if output != nil {
		raw, err := json.Marshal(output)
		if err != nil {
			err = fmt.Errorf("encode output: %w", err)
			result.Status = execution.StepFailed
			result.ErrorMessage = err.Error()
			return result, err
		}
		result.Output = raw
	}
	result.Status = execution.StepSucceeded
	return result, nil
}
