// Package progress ships run progress snapshots to the tracking service,
// one delivery at a time per run, in submission order.
package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/pixperk/flowkey/pkg/execution"
)

// ErrDeliveryFailed is returned when the sink could not be reached or
// rejected the update.
var ErrDeliveryFailed = errors.New("progress delivery failed")

// StatusError carries the status of a rejected update.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sink responded %d", e.StatusCode)
	}
	return fmt.Sprintf("sink responded %d: %s", e.StatusCode, e.Body)
}

type UpdateType string

const (
	UpdateWebhookResponse UpdateType = "WEBHOOK_RESPONSE"
	UpdateTestFlow        UpdateType = "TEST_FLOW"
	UpdateNone            UpdateType = "NONE"
)

func ParseUpdateType(s string) (UpdateType, error) {
	switch t := UpdateType(s); t {
	case UpdateWebhookResponse, UpdateTestFlow, UpdateNone:
		return t, nil
	case "":
		return UpdateNone, nil
	default:
		return "", fmt.Errorf("unknown progress update type %q", s)
	}
}

// Meta holds the routing hints sent with every update of a run.
type Meta struct {
	WorkerHandlerID *string
	HTTPRequestID   *string
	UpdateType      UpdateType
}

// Update is the body posted to the tracking service.
type Update struct {
	RunID              string               `json:"runId"`
	WorkerHandlerID    *string              `json:"workerHandlerId"`
	HTTPRequestID      *string              `json:"httpRequestId"`
	RunDetails         execution.RunDetails `json:"runDetails"`
	ProgressUpdateType UpdateType           `json:"progressUpdateType"`
}

// Sink delivers one update. It must not retry internally.
type Sink interface {
	Deliver(ctx context.Context, u Update) error
}

type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Deliver(ctx context.Context, u Update) error { return f(ctx, u) }
