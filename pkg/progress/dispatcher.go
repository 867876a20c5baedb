package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixperk/flowkey/pkg/execution"
	"github.com/pixperk/flowkey/pkg/metrics"
)

// Snapshotter produces the current state of a run.
type Snapshotter interface {
	Snapshot() execution.Snapshot
}

type staticSnapshot execution.Snapshot

func (s staticSnapshot) Snapshot() execution.Snapshot { return execution.Snapshot(s) }

type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher serializes deliveries per run. Submissions for one run pass
// through an exclusive section in the order they were made; different runs
// never wait on each other.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*runQueue
}

// per-run chain of tickets; lives while any submission for the run is pending
type runQueue struct {
	tail    chan struct{}
	pending int

	// owned by whoever holds the run's section
	delivered bool
	lastSeq   uint64
}

var closedTicket = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		logger: slog.Default(),
		runs:   make(map[string]*runQueue),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit waits for earlier submissions of runID to finish, then takes a
// snapshot from src and delivers it. The snapshot is taken inside the
// section so it reflects everything recorded up to that point. Delivery
// errors wrap ErrDeliveryFailed and are not retried.
func (d *Dispatcher) Submit(ctx context.Context, runID string, src Snapshotter, meta Meta) error {
	q, prev, done := d.enqueue(runID)

	select {
	case <-prev:
	case <-ctx.Done():
		//our slot is handed on only once the predecessor is done
		go func() {
			<-prev
			d.finish(runID, q, done)
		}()
		return ctx.Err()
	}
	defer d.finish(runID, q, done)

	return d.deliver(ctx, runID, q, src.Snapshot(), meta)
}

// SubmitSnapshot delivers a snapshot taken earlier. It is dropped if a
// newer snapshot of the run was already delivered.
func (d *Dispatcher) SubmitSnapshot(ctx context.Context, snap execution.Snapshot, meta Meta) error {
	return d.Submit(ctx, snap.RunID, staticSnapshot(snap), meta)
}

// Pending returns the number of runs with a submission in flight or queued.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func (d *Dispatcher) enqueue(runID string) (*runQueue, <-chan struct{}, chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.runs[runID]
	if !ok {
		q = &runQueue{tail: closedTicket}
		d.runs[runID] = q
		metrics.ProgressRunsPending.Inc()
	}

	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.pending++
	return q, prev, done
}

func (d *Dispatcher) finish(runID string, q *runQueue, done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	close(done)
	q.pending--
	if q.pending == 0 {
		delete(d.runs, runID)
		metrics.ProgressRunsPending.Dec()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, runID string, q *runQueue, snap execution.Snapshot, meta Meta) error {
	if q.delivered && snap.Sequence < q.lastSeq {
		metrics.ProgressDeliveryTotal.WithLabelValues("stale").Inc()
		d.logger.Debug("dropping stale progress snapshot",
			"run_id", runID,
			"sequence", snap.Sequence,
			"last_delivered", q.lastSeq,
		)
		return nil
	}

	updateType := meta.UpdateType
	if updateType == "" {
		updateType = UpdateNone
	}

	start := time.Now()
	err := d.sink.Deliver(ctx, Update{
		RunID:              runID,
		WorkerHandlerID:    meta.WorkerHandlerID,
		HTTPRequestID:      meta.HTTPRequestID,
		RunDetails:         snap.Details,
		ProgressUpdateType: updateType,
	})
	metrics.ProgressDeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProgressDeliveryTotal.WithLabelValues("failed").Inc()
		if !errors.Is(err, ErrDeliveryFailed) {
			err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		return fmt.Errorf("run %s sequence %d: %w", runID, snap.Sequence, err)
	}

	metrics.ProgressDeliveryTotal.WithLabelValues("delivered").Inc()
	q.delivered = true
	q.lastSeq = snap.Sequence
	return nil
}
