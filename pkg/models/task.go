package models

import "time"

// TaskState represents the execution state of a task star.
type TaskState string

const (
	// TaskPending indicates the task has not started and has no unmet dependencies recorded.
	TaskPending TaskState = "pending"
	// TaskWaitingDependency indicates the task is blocked on at least one inbound dependency.
	TaskWaitingDependency TaskState = "waiting_dependency"
	// TaskRunning indicates the task has been dispatched to a worker.
	TaskRunning TaskState = "running"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskState = "completed"
	// TaskFailed indicates the task finished with an error.
	TaskFailed TaskState = "failed"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskWaitingDependency, TaskRunning, TaskCompleted, TaskFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is final (completed or failed).
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Rank orders states by lifecycle progress. Merging two views of the same
// task keeps the higher-ranked state so a task never moves backward:
// completed/failed (3) > running (2) > waiting_dependency (1) > pending (0).
func (s TaskState) Rank() int {
	switch s {
	case TaskCompleted, TaskFailed:
		return 3
	case TaskRunning:
		return 2
	case TaskWaitingDependency:
		return 1
	default:
		return 0
	}
}

// TaskStar represents a single unit of work in a constellation.
type TaskStar struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short human-readable name of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// WorkerID is the worker assigned to execute this task, empty until scheduled.
	WorkerID string `json:"worker_id,omitempty"`
	// State is the current execution state.
	State TaskState `json:"state"`
	// Result holds the free-form result payload once the task completed.
	Result string `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// Metadata carries free-form hints for the planner.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the task was added to the constellation.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t TaskStar) Clone() TaskStar {
	out := t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

// TaskUpdate is a partial patch applied to an existing task.
// Nil fields are left unchanged.
type TaskUpdate struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	WorkerID    *string           `json:"worker_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Empty returns true if the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.WorkerID == nil && u.Metadata == nil
}
