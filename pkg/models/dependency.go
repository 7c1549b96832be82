package models

import "strings"

// DependencyType describes how a dependency edge is satisfied by the state
// of its source task.
type DependencyType string

const (
	// DependencySuccess requires the source task to have completed successfully.
	DependencySuccess DependencyType = "success"
	// DependencyCompletion is satisfied by any terminal outcome of the source,
	// success or failure.
	DependencyCompletion DependencyType = "completion"
	// DependencyConditional requires the source task to be terminal and its
	// result payload to contain the edge's condition string. An empty
	// condition degrades to success semantics.
	DependencyConditional DependencyType = "conditional"
)

// Valid returns true if the dependency type is a known value.
func (d DependencyType) Valid() bool {
	switch d {
	case DependencySuccess, DependencyCompletion, DependencyConditional:
		return true
	default:
		return false
	}
}

// DependencyEdge is a directed constraint between two tasks: To may not run
// until the edge is satisfied by From's state.
type DependencyEdge struct {
	// ID is the unique identifier for this edge.
	ID string `json:"id"`
	// From is the source (prerequisite) task ID.
	From string `json:"from"`
	// To is the target (dependent) task ID.
	To string `json:"to"`
	// Type controls the satisfaction semantics.
	Type DependencyType `json:"type"`
	// Condition is the predicate payload for conditional edges.
	Condition string `json:"condition,omitempty"`
}

// Satisfied reports whether the edge is satisfied by the current state of
// its source task.
func (e DependencyEdge) Satisfied(source TaskStar) bool {
	switch e.Type {
	case DependencyCompletion:
		return source.State.Terminal()
	case DependencyConditional:
		if e.Condition == "" {
			return source.State == TaskCompleted
		}
		return source.State.Terminal() && strings.Contains(source.Result, e.Condition)
	default:
		// DependencySuccess and unknown types require a successful source.
		return source.State == TaskCompleted
	}
}
