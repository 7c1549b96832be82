// Package planner defines the port for the external decision-maker that
// edits the constellation in response to task progress, and the runner
// that batches progress events and drives the graph-edit API.
package planner

import (
	"context"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/pkg/models"
)

// Planner computes structural edits from a batch of progress events and
// the current graph view. Returning no edits means the batch needs no
// structural change.
type Planner interface {
	PlanEdits(ctx context.Context, batch []events.Event, view *models.Snapshot) ([]models.GraphEdit, error)
}

// GraphEditor is the planner's write port into the constellation. Apply
// stages every edit atomically and publishes CONSTELLATION_MODIFIED
// carrying the trigger task IDs; View returns the graph the next edit
// batch would be computed against.
type GraphEditor interface {
	Apply(ctx context.Context, triggerTasks []string, edits []models.GraphEdit) error
	View() *models.Snapshot
}
