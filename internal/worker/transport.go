// Package worker defines the transport port between the orchestration loop
// and remote workers, plus a simulated transport for demos and tests. Real
// wire transports live outside this repository.
package worker

import (
	"context"
	"time"

	"github.com/orbitalworks/orrery/pkg/models"
)

// Status is the terminal status a worker reports for a task.
type Status string

const (
	// StatusSuccess means the task finished successfully.
	StatusSuccess Status = "success"
	// StatusFailure means the task finished with an error.
	StatusFailure Status = "failure"
	// StatusUnknown means the worker finished without recording either
	// outcome. The orchestrator treats it as a failure and logs a
	// warning, since it indicates a bug in the worker or transport.
	StatusUnknown Status = "unknown"
)

// Outcome is a worker's report for one dispatched task.
type Outcome struct {
	// TaskID is the task this outcome belongs to.
	TaskID string
	// WorkerID identifies the worker that executed the task.
	WorkerID string
	// Status is the reported terminal status.
	Status Status
	// Result is the free-form result payload on success.
	Result string
	// Error is the error message on failure.
	Error string
	// Duration is how long the task ran on the worker.
	Duration time.Duration
}

// Transport dispatches tasks to workers and blocks until an outcome
// arrives, the context is cancelled, or the transport gives up.
type Transport interface {
	Dispatch(ctx context.Context, task models.TaskStar) (*Outcome, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, task models.TaskStar) (*Outcome, error)

// Dispatch implements Transport.
func (f TransportFunc) Dispatch(ctx context.Context, task models.TaskStar) (*Outcome, error) {
	return f(ctx, task)
}
