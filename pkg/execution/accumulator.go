// Package execution accumulates the observable state of one run.
package execution

import (
	"encoding/json"
	"sync"
	"time"
)

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunStopped   RunStatus = "STOPPED"
)

type StepStatus string

const (
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

type StepResult struct {
	Name         string          `json:"name"`
	Type         string          `json:"type,omitempty"`
	Status       StepStatus      `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	Duration     time.Duration   `json:"duration"`
}

func (r StepResult) clone() StepResult {
	r.Input = cloneRaw(r.Input)
	r.Output = cloneRaw(r.Output)
	return r
}

// RunDetails is the payload shipped to the tracking service.
type RunDetails struct {
	Status     RunStatus    `json:"status"`
	Steps      []StepResult `json:"steps"`
	TasksUsed  int          `json:"tasks"`
	StartTime  time.Time    `json:"startTime"`
	FinishTime *time.Time   `json:"finishTime,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Snapshot is an immutable copy of a run's state. Sequence grows by one
// with every mutation of the accumulator it came from.
type Snapshot struct {
	RunID    string     `json:"runId"`
	Sequence uint64     `json:"sequence"`
	TakenAt  time.Time  `json:"takenAt"`
	Details  RunDetails `json:"runDetails"`
}

// Accumulator is the append-only record of a run. It is safe for
// concurrent use by parallel steps of the same run.
type Accumulator struct {
	mu      sync.Mutex
	runID   string
	seq     uint64
	details RunDetails
	now     func() time.Time
}

func NewAccumulator(runID string) *Accumulator {
	return newAccumulator(runID, time.Now)
}

func newAccumulator(runID string, now func() time.Time) *Accumulator {
	return &Accumulator{
		runID: runID,
		now:   now,
		details: RunDetails{
			Status:    RunRunning,
			StartTime: now(),
		},
	}
}

func (a *Accumulator) RunID() string { return a.runID }

// RecordStep appends one step outcome and returns the new sequence.
func (a *Accumulator) RecordStep(r StepResult) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.details.Steps = append(a.details.Steps, r.clone())
	a.seq++
	return a.seq
}

// SetStatus records the run status. A terminal status stamps the finish time.
func (a *Accumulator) SetStatus(status RunStatus, err error) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.details.Status = status
	if err != nil {
		a.details.Error = err.Error()
	}
	if status != RunRunning {
		finished := a.now()
		a.details.FinishTime = &finished
	}
	a.seq++
	return a.seq
}

// IncrementTasks adds n billable tasks to the run.
func (a *Accumulator) IncrementTasks(n int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.details.TasksUsed += n
	a.seq++
	return a.seq
}

func (a *Accumulator) Sequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

func (a *Accumulator) Steps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.details.Steps)
}

// Snapshot returns a deep copy of everything recorded so far.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	details := a.details
	details.Steps = make([]StepResult, len(a.details.Steps))
	for i, s := range a.details.Steps {
		details.Steps[i] = s.clone()
	}
	if a.details.FinishTime != nil {
		finished := *a.details.FinishTime
		details.FinishTime = &finished
	}

	return Snapshot{
		RunID:    a.runID,
		Sequence: a.seq,
		TakenAt:  a.now(),
		Details:  details,
	}
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}
