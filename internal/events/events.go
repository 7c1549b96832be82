// Package events provides the orchestration event taxonomy and a typed
// publish/subscribe bus with concurrent, failure-isolated fan-out.
package events

import (
	"context"
	"time"

	"github.com/orbitalworks/orrery/pkg/models"
)

// Type tags an event with its kind.
type Type string

const (
	// TaskStarted is published when a task is dispatched to a worker.
	TaskStarted Type = "TASK_STARTED"
	// TaskCompleted is published when a worker reports success.
	TaskCompleted Type = "TASK_COMPLETED"
	// TaskFailed is published when a worker reports failure.
	TaskFailed Type = "TASK_FAILED"
	// ConstellationStarted is published once when a run begins.
	ConstellationStarted Type = "CONSTELLATION_STARTED"
	// ConstellationCompleted is published when every task finished successfully.
	ConstellationCompleted Type = "CONSTELLATION_COMPLETED"
	// ConstellationFailed is published when the constellation drained with failures.
	ConstellationFailed Type = "CONSTELLATION_FAILED"
	// ConstellationModified is published after a structural edit was applied.
	ConstellationModified Type = "CONSTELLATION_MODIFIED"
)

// TaskEventData carries the task-identifying fields of task lifecycle events.
type TaskEventData struct {
	// TaskID is the task the event is about.
	TaskID string `json:"task_id"`
	// State is the task's state after the transition.
	State models.TaskState `json:"state"`
	// Result holds the result payload for completed tasks.
	Result string `json:"result,omitempty"`
	// Error holds the error message for failed tasks.
	Error string `json:"error,omitempty"`
	// NewlyReady lists tasks made ready by this transition.
	NewlyReady []string `json:"newly_ready,omitempty"`
}

// ConstellationEventData carries the fields of structural events.
type ConstellationEventData struct {
	// ConstellationID identifies the constellation.
	ConstellationID string `json:"constellation_id"`
	// Old is the graph before the edit, nil for non-edit events.
	Old *models.Snapshot `json:"old,omitempty"`
	// New is the graph after the edit.
	New *models.Snapshot `json:"new,omitempty"`
	// TriggerTasks lists the tasks whose completion triggered the edit.
	// Empty means the edit was unsolicited and releases every waiter.
	TriggerTasks []string `json:"trigger_tasks,omitempty"`
	// Diff is the structural delta from Old to New.
	Diff *models.SnapshotDiff `json:"diff,omitempty"`
}

// Event is a single occurrence routed through the bus. Sequence and
// Timestamp are stamped by the bus at publish time.
type Event struct {
	Type          Type                    `json:"type"`
	Source        string                  `json:"source"`
	Sequence      uint64                  `json:"sequence"`
	Timestamp     time.Time               `json:"timestamp"`
	Task          *TaskEventData          `json:"task,omitempty"`
	Constellation *ConstellationEventData `json:"constellation,omitempty"`
	// Data carries ad-hoc payloads for events outside the core taxonomy.
	Data map[string]any `json:"data,omitempty"`
}

// Observer reacts to published events. Observers must tolerate concurrent
// OnEvent calls for events published from different goroutines; events
// published sequentially from one goroutine arrive in publish order.
type Observer interface {
	// Name identifies the observer in logs and statistics.
	Name() string
	// OnEvent handles a single event. Returned errors are logged and
	// counted by the bus but never propagate to the publisher.
	OnEvent(ctx context.Context, ev Event) error
}
