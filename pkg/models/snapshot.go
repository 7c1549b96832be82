package models

import "time"

// ConstellationStatus is the coarse-grained status of a whole constellation.
type ConstellationStatus string

const (
	// ConstellationActive indicates at least one task is running or can
	// still be dispatched.
	ConstellationActive ConstellationStatus = "active"
	// ConstellationCompleted indicates the constellation drained with no
	// failed task. Tasks left permanently blocked by an unmatched
	// conditional edge count as branches not taken, not as failures.
	ConstellationCompleted ConstellationStatus = "completed"
	// ConstellationFailed indicates the constellation drained and at least
	// one task failed, including the case where a failure left dependents
	// permanently blocked.
	ConstellationFailed ConstellationStatus = "failed"
)

// Snapshot is an immutable, deeply copied view of a constellation, safe to
// share across components without locking.
type Snapshot struct {
	// ConstellationID identifies the constellation this view was taken from.
	ConstellationID string `json:"constellation_id"`
	// Tasks holds a copy of every task star.
	Tasks []TaskStar `json:"tasks"`
	// Edges holds a copy of every dependency edge.
	Edges []DependencyEdge `json:"edges"`
	// Order lists task IDs in their original insertion order.
	Order []string `json:"order"`
	// Status is the coarse status at the time the snapshot was taken.
	Status ConstellationStatus `json:"status"`
	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`
}

// Task returns the task with the given ID, or nil if absent.
func (s *Snapshot) Task(id string) *TaskStar {
	if s == nil {
		return nil
	}
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// Edge returns the edge with the given ID, or nil if absent.
func (s *Snapshot) Edge(id string) *DependencyEdge {
	if s == nil {
		return nil
	}
	for i := range s.Edges {
		if s.Edges[i].ID == id {
			return &s.Edges[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		ConstellationID: s.ConstellationID,
		Tasks:           make([]TaskStar, 0, len(s.Tasks)),
		Edges:           make([]DependencyEdge, len(s.Edges)),
		Order:           make([]string, len(s.Order)),
		Status:          s.Status,
		TakenAt:         s.TakenAt,
	}
	for _, t := range s.Tasks {
		out.Tasks = append(out.Tasks, t.Clone())
	}
	copy(out.Edges, s.Edges)
	copy(out.Order, s.Order)
	return out
}

// ComputeStatus derives the coarse constellation status from a set of tasks
// and the dependency edges between them. The constellation is active while
// any task is running or any non-terminal task has all incoming edges
// satisfied; once neither holds the graph has drained, and it is failed if
// any task failed, otherwise completed. A task stuck behind a failed
// prerequisite therefore does not keep the constellation active. An empty
// task set counts as completed (nothing left to run).
func ComputeStatus(tasks []TaskStar, edges []DependencyEdge) ConstellationStatus {
	byID := make(map[string]TaskStar, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	incoming := make(map[string][]DependencyEdge)
	for _, e := range edges {
		incoming[e.To] = append(incoming[e.To], e)
	}

	anyFailed := false
	for _, t := range tasks {
		switch {
		case t.State == TaskRunning:
			return ConstellationActive
		case t.State == TaskFailed:
			anyFailed = true
		case t.State.Terminal():
		default:
			if incomingSatisfied(incoming[t.ID], byID) {
				return ConstellationActive
			}
		}
	}
	if anyFailed {
		return ConstellationFailed
	}
	return ConstellationCompleted
}

// incomingSatisfied reports whether every edge into a task is satisfied by
// its source. A dangling source counts as unsatisfied.
func incomingSatisfied(edges []DependencyEdge, tasks map[string]TaskStar) bool {
	for _, e := range edges {
		src, ok := tasks[e.From]
		if !ok || !e.Satisfied(src) {
			return false
		}
	}
	return true
}

// SnapshotDiff describes the structural delta between two snapshots of the
// same constellation. Task and edge entries are IDs.
type SnapshotDiff struct {
	AddedTasks   []string `json:"added_tasks,omitempty"`
	RemovedTasks []string `json:"removed_tasks,omitempty"`
	UpdatedTasks []string `json:"updated_tasks,omitempty"`
	AddedEdges   []string `json:"added_edges,omitempty"`
	RemovedEdges []string `json:"removed_edges,omitempty"`
	UpdatedEdges []string `json:"updated_edges,omitempty"`
}

// Empty returns true if the diff records no structural change.
func (d *SnapshotDiff) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.AddedTasks) == 0 && len(d.RemovedTasks) == 0 && len(d.UpdatedTasks) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0 && len(d.UpdatedEdges) == 0
}

// DiffSnapshots computes the structural delta from old to new. Execution
// state transitions count as task updates so the diff reflects everything an
// observer would need to reconcile the two views.
func DiffSnapshots(old, new *Snapshot) *SnapshotDiff {
	diff := &SnapshotDiff{}

	oldTasks := make(map[string]TaskStar)
	if old != nil {
		for _, t := range old.Tasks {
			oldTasks[t.ID] = t
		}
	}
	newTasks := make(map[string]TaskStar)
	if new != nil {
		for _, t := range new.Tasks {
			newTasks[t.ID] = t
		}
	}

	if new != nil {
		for _, id := range new.Order {
			t, ok := newTasks[id]
			if !ok {
				continue
			}
			prev, existed := oldTasks[id]
			if !existed {
				diff.AddedTasks = append(diff.AddedTasks, id)
				continue
			}
			if !tasksEqual(prev, t) {
				diff.UpdatedTasks = append(diff.UpdatedTasks, id)
			}
		}
	}
	if old != nil {
		for _, id := range old.Order {
			if _, ok := newTasks[id]; !ok {
				if _, existed := oldTasks[id]; existed {
					diff.RemovedTasks = append(diff.RemovedTasks, id)
				}
			}
		}
	}

	oldEdges := make(map[string]DependencyEdge)
	if old != nil {
		for _, e := range old.Edges {
			oldEdges[e.ID] = e
		}
	}
	if new != nil {
		for _, e := range new.Edges {
			prev, existed := oldEdges[e.ID]
			if !existed {
				diff.AddedEdges = append(diff.AddedEdges, e.ID)
				continue
			}
			if prev != e {
				diff.UpdatedEdges = append(diff.UpdatedEdges, e.ID)
			}
			delete(oldEdges, e.ID)
		}
	}
	for id := range oldEdges {
		diff.RemovedEdges = append(diff.RemovedEdges, id)
	}

	return diff
}

// tasksEqual compares the fields of two tasks that matter for diffing.
func tasksEqual(a, b TaskStar) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Description != b.Description ||
		a.WorkerID != b.WorkerID || a.State != b.State ||
		a.Result != b.Result || a.Error != b.Error {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}
