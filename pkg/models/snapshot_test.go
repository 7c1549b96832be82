package models

import (
	"testing"
)

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name  string
		tasks []TaskStar
		edges []DependencyEdge
		want  ConstellationStatus
	}{
		{
			name:  "empty set counts as completed",
			tasks: nil,
			want:  ConstellationCompleted,
		},
		{
			name: "all completed",
			tasks: []TaskStar{
				{ID: "a", State: TaskCompleted},
				{ID: "b", State: TaskCompleted},
			},
			want: ConstellationCompleted,
		},
		{
			name: "running task keeps it active",
			tasks: []TaskStar{
				{ID: "a", State: TaskCompleted},
				{ID: "b", State: TaskRunning},
			},
			want: ConstellationActive,
		},
		{
			name: "unblocked waiting task keeps it active despite a failure",
			tasks: []TaskStar{
				{ID: "a", State: TaskFailed},
				{ID: "b", State: TaskWaitingDependency},
			},
			want: ConstellationActive,
		},
		{
			name: "all terminal with a failure is failed",
			tasks: []TaskStar{
				{ID: "a", State: TaskCompleted},
				{ID: "b", State: TaskFailed},
			},
			want: ConstellationFailed,
		},
		{
			name: "dependent blocked behind a failure drains failed",
			tasks: []TaskStar{
				{ID: "a", State: TaskFailed},
				{ID: "b", State: TaskWaitingDependency},
			},
			edges: []DependencyEdge{
				{ID: "e-ab", From: "a", To: "b", Type: DependencySuccess},
			},
			want: ConstellationFailed,
		},
		{
			name: "blocked dependent with another ready task stays active",
			tasks: []TaskStar{
				{ID: "a", State: TaskFailed},
				{ID: "b", State: TaskWaitingDependency},
				{ID: "c", State: TaskPending},
			},
			edges: []DependencyEdge{
				{ID: "e-ab", From: "a", To: "b", Type: DependencySuccess},
			},
			want: ConstellationActive,
		},
		{
			name: "unmatched conditional branch drains completed",
			tasks: []TaskStar{
				{ID: "a", State: TaskCompleted, Result: "minor"},
				{ID: "b", State: TaskWaitingDependency},
			},
			edges: []DependencyEdge{
				{ID: "e-ab", From: "a", To: "b", Type: DependencyConditional, Condition: "release"},
			},
			want: ConstellationCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeStatus(tt.tasks, tt.edges); got != tt.want {
				t.Errorf("ComputeStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshot_Clone(t *testing.T) {
	snap := &Snapshot{
		ConstellationID: "c1",
		Tasks: []TaskStar{
			{ID: "a", State: TaskPending, Metadata: map[string]string{"k": "v"}},
		},
		Edges: []DependencyEdge{
			{ID: "e1", From: "a", To: "b", Type: DependencySuccess},
		},
		Order:  []string{"a"},
		Status: ConstellationActive,
	}

	clone := snap.Clone()
	clone.Tasks[0].State = TaskCompleted
	clone.Tasks[0].Metadata["k"] = "changed"
	clone.Edges[0].To = "c"
	clone.Order[0] = "z"

	if snap.Tasks[0].State != TaskPending {
		t.Error("clone task state mutation leaked into original")
	}
	if snap.Tasks[0].Metadata["k"] != "v" {
		t.Error("clone task metadata mutation leaked into original")
	}
	if snap.Edges[0].To != "b" {
		t.Error("clone edge mutation leaked into original")
	}
	if snap.Order[0] != "a" {
		t.Error("clone order mutation leaked into original")
	}
}

func TestSnapshot_TaskAndEdgeLookup(t *testing.T) {
	snap := &Snapshot{
		Tasks: []TaskStar{{ID: "a"}, {ID: "b"}},
		Edges: []DependencyEdge{{ID: "e1", From: "a", To: "b"}},
	}

	if got := snap.Task("b"); got == nil || got.ID != "b" {
		t.Errorf("Task(b) = %v, want task b", got)
	}
	if got := snap.Task("missing"); got != nil {
		t.Errorf("Task(missing) = %v, want nil", got)
	}
	if got := snap.Edge("e1"); got == nil || got.From != "a" {
		t.Errorf("Edge(e1) = %v, want edge from a", got)
	}
	if got := snap.Edge("missing"); got != nil {
		t.Errorf("Edge(missing) = %v, want nil", got)
	}

	var nilSnap *Snapshot
	if nilSnap.Task("a") != nil || nilSnap.Edge("e1") != nil {
		t.Error("lookups on a nil snapshot should return nil")
	}
}

func TestDiffSnapshots(t *testing.T) {
	old := &Snapshot{
		ConstellationID: "c1",
		Tasks: []TaskStar{
			{ID: "a", State: TaskPending},
			{ID: "b", State: TaskPending},
			{ID: "gone", State: TaskPending},
		},
		Edges: []DependencyEdge{
			{ID: "e1", From: "a", To: "b", Type: DependencySuccess},
			{ID: "e2", From: "a", To: "gone", Type: DependencySuccess},
		},
		Order: []string{"a", "b", "gone"},
	}
	new := &Snapshot{
		ConstellationID: "c1",
		Tasks: []TaskStar{
			{ID: "a", State: TaskCompleted},
			{ID: "b", State: TaskPending},
			{ID: "fresh", State: TaskPending},
		},
		Edges: []DependencyEdge{
			{ID: "e1", From: "a", To: "b", Type: DependencyCompletion},
			{ID: "e3", From: "b", To: "fresh", Type: DependencySuccess},
		},
		Order: []string{"a", "b", "fresh"},
	}

	diff := DiffSnapshots(old, new)

	if len(diff.AddedTasks) != 1 || diff.AddedTasks[0] != "fresh" {
		t.Errorf("AddedTasks = %v, want [fresh]", diff.AddedTasks)
	}
	if len(diff.RemovedTasks) != 1 || diff.RemovedTasks[0] != "gone" {
		t.Errorf("RemovedTasks = %v, want [gone]", diff.RemovedTasks)
	}
	if len(diff.UpdatedTasks) != 1 || diff.UpdatedTasks[0] != "a" {
		t.Errorf("UpdatedTasks = %v, want [a]", diff.UpdatedTasks)
	}
	if len(diff.AddedEdges) != 1 || diff.AddedEdges[0] != "e3" {
		t.Errorf("AddedEdges = %v, want [e3]", diff.AddedEdges)
	}
	if len(diff.RemovedEdges) != 1 || diff.RemovedEdges[0] != "e2" {
		t.Errorf("RemovedEdges = %v, want [e2]", diff.RemovedEdges)
	}
	if len(diff.UpdatedEdges) != 1 || diff.UpdatedEdges[0] != "e1" {
		t.Errorf("UpdatedEdges = %v, want [e1]", diff.UpdatedEdges)
	}
}

func TestDiffSnapshots_Identical(t *testing.T) {
	snap := &Snapshot{
		Tasks: []TaskStar{{ID: "a", State: TaskRunning}},
		Edges: []DependencyEdge{{ID: "e1", From: "a", To: "b"}},
		Order: []string{"a"},
	}

	diff := DiffSnapshots(snap, snap.Clone())
	if !diff.Empty() {
		t.Errorf("diff of identical snapshots should be empty, got %+v", diff)
	}
}

func TestSnapshotDiff_Empty(t *testing.T) {
	var nilDiff *SnapshotDiff
	if !nilDiff.Empty() {
		t.Error("nil diff should be empty")
	}
	if !(&SnapshotDiff{}).Empty() {
		t.Error("zero diff should be empty")
	}
	if (&SnapshotDiff{AddedTasks: []string{"a"}}).Empty() {
		t.Error("diff with an added task should not be empty")
	}
}
