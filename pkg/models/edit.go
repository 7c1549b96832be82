package models

import "fmt"

// EditOp identifies a single structural mutation applied to a constellation.
type EditOp string

const (
	// EditAddTask inserts a new task star.
	EditAddTask EditOp = "add_task"
	// EditRemoveTask removes a task and every edge touching it.
	EditRemoveTask EditOp = "remove_task"
	// EditUpdateTask patches the descriptive fields of an existing task.
	EditUpdateTask EditOp = "update_task"
	// EditAddDependency inserts a new dependency edge.
	EditAddDependency EditOp = "add_dependency"
	// EditRemoveDependency removes a dependency edge.
	EditRemoveDependency EditOp = "remove_dependency"
	// EditUpdateDependency changes the type or condition of an existing edge.
	EditUpdateDependency EditOp = "update_dependency"
)

// GraphEdit is one structural edit command issued by a planner. Exactly the
// fields relevant to Op are consulted; the rest are ignored.
type GraphEdit struct {
	// Op selects which mutation to perform.
	Op EditOp `json:"op"`
	// Task is the task payload for add_task.
	Task *TaskStar `json:"task,omitempty"`
	// TaskID targets remove_task and update_task.
	TaskID string `json:"task_id,omitempty"`
	// Update is the patch payload for update_task.
	Update *TaskUpdate `json:"update,omitempty"`
	// Edge is the edge payload for add_dependency.
	Edge *DependencyEdge `json:"edge,omitempty"`
	// EdgeID targets remove_dependency and update_dependency.
	EdgeID string `json:"edge_id,omitempty"`
	// Type is the new dependency type for update_dependency.
	Type DependencyType `json:"type,omitempty"`
	// Condition is the new condition payload for update_dependency.
	Condition string `json:"condition,omitempty"`
}

// Validate checks that the edit carries the fields its operation needs.
func (e GraphEdit) Validate() error {
	switch e.Op {
	case EditAddTask:
		if e.Task == nil || e.Task.ID == "" {
			return fmt.Errorf("add_task edit requires a task with an ID")
		}
	case EditRemoveTask, EditUpdateTask:
		if e.TaskID == "" {
			return fmt.Errorf("%s edit requires a task ID", e.Op)
		}
		if e.Op == EditUpdateTask && e.Update == nil {
			return fmt.Errorf("update_task edit requires an update payload")
		}
	case EditAddDependency:
		if e.Edge == nil || e.Edge.From == "" || e.Edge.To == "" {
			return fmt.Errorf("add_dependency edit requires an edge with endpoints")
		}
	case EditRemoveDependency, EditUpdateDependency:
		if e.EdgeID == "" {
			return fmt.Errorf("%s edit requires an edge ID", e.Op)
		}
		if e.Op == EditUpdateDependency && !e.Type.Valid() {
			return fmt.Errorf("update_dependency edit requires a valid dependency type")
		}
	default:
		return fmt.Errorf("unknown edit op %q", e.Op)
	}
	return nil
}
