package worker

import (
	"context"
	"sync"
	"time"

	"github.com/orbitalworks/orrery/pkg/models"
)

// Script describes the outcome a simulated worker reports for one task.
type Script struct {
	// Status is the reported status; empty defaults to success.
	Status Status
	// Result is the result payload to report.
	Result string
	// Error is the error message to report.
	Error string
	// Latency is how long the dispatch blocks before reporting.
	Latency time.Duration
}

// SimulatedTransport executes scripted outcomes with configurable latency.
// Unscripted tasks succeed after the default latency.
type SimulatedTransport struct {
	mu sync.Mutex
	// scripts maps task ID to its scripted outcome.
	scripts map[string]Script
	// defaultLatency applies to unscripted tasks and scripts without one.
	defaultLatency time.Duration
	// dispatched records task IDs in dispatch order.
	dispatched []string
	// workerID is reported on every outcome.
	workerID string
}

// NewSimulatedTransport creates a simulated transport.
func NewSimulatedTransport(defaultLatency time.Duration) *SimulatedTransport {
	return &SimulatedTransport{
		scripts:        make(map[string]Script),
		defaultLatency: defaultLatency,
		workerID:       "sim-worker",
	}
}

// ScriptOutcome sets the scripted outcome for a task.
func (s *SimulatedTransport) ScriptOutcome(taskID string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[taskID] = script
}

// Dispatched returns task IDs in the order they were dispatched.
func (s *SimulatedTransport) Dispatched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.dispatched...)
}

// Dispatch implements Transport.
func (s *SimulatedTransport) Dispatch(ctx context.Context, task models.TaskStar) (*Outcome, error) {
	s.mu.Lock()
	s.dispatched = append(s.dispatched, task.ID)
	script, scripted := s.scripts[task.ID]
	latency := s.defaultLatency
	workerID := s.workerID
	s.mu.Unlock()

	if scripted && script.Latency > 0 {
		latency = script.Latency
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := time.Now()
	out := &Outcome{
		TaskID:   task.ID,
		WorkerID: workerID,
		Status:   StatusSuccess,
		Result:   "done",
		Duration: latency + time.Since(start),
	}
	if task.WorkerID != "" {
		out.WorkerID = task.WorkerID
	}
	if scripted {
		if script.Status != "" {
			out.Status = script.Status
		}
		if script.Result != "" {
			out.Result = script.Result
		}
		out.Error = script.Error
	}
	return out, nil
}
