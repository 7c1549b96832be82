package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/orbitalworks/orrery/internal/constellation"
	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/pkg/models"
)

// Editor is the planner's write port into the constellation. Edits are
// applied to a scratch copy of the current view, so a rejected batch
// stages nothing and readers never see a half-edited structure. Accepted
// batches are staged and published as CONSTELLATION_MODIFIED; the live
// graph is replaced only when the loop merges the staged snapshot at the
// top of its next iteration.
type Editor struct {
	mu   sync.Mutex
	orch *Orchestrator
}

// View returns the graph a new edit batch should be computed against.
func (e *Editor) View() *models.Snapshot {
	return e.orch.editBase()
}

// Apply applies an edit batch atomically. Any invalid edit rejects the
// whole batch synchronously with CycleDetected or InvalidEdit semantics
// and leaves nothing staged. An empty batch is valid: it stages the
// unchanged view and still publishes CONSTELLATION_MODIFIED so the
// pending records for triggerTasks resolve without waiting out their
// timeout.
func (e *Editor) Apply(ctx context.Context, triggerTasks []string, edits []models.GraphEdit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.orch.editBase()
	scratch := constellation.FromSnapshot(base)

	for i, edit := range edits {
		if err := applyEdit(scratch, edit); err != nil {
			return fmt.Errorf("edit %d (%s): %w", i, edit.Op, err)
		}
	}
	if ok, problems := scratch.Validate(); !ok {
		return fmt.Errorf("%w: edited graph invalid: %v", constellation.ErrInvalidEdit, problems)
	}

	edited := scratch.SnapshotView()
	diff := models.DiffSnapshots(base, edited)
	e.orch.stage(edited, diff.RemovedTasks)

	e.orch.bus.Publish(ctx, events.Event{
		Type:   events.ConstellationModified,
		Source: "editor",
		Constellation: &events.ConstellationEventData{
			ConstellationID: edited.ConstellationID,
			Old:             base,
			New:             edited,
			TriggerTasks:    triggerTasks,
			Diff:            diff,
		},
	})
	e.orch.ledgerModification(triggerTasks, diff)
	return nil
}

// applyEdit routes one edit command to the matching graph mutator.
func applyEdit(c *constellation.Constellation, edit models.GraphEdit) error {
	if err := edit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", constellation.ErrInvalidEdit, err)
	}
	switch edit.Op {
	case models.EditAddTask:
		return c.AddTask(*edit.Task)
	case models.EditRemoveTask:
		return c.RemoveTask(edit.TaskID)
	case models.EditUpdateTask:
		return c.UpdateTask(edit.TaskID, *edit.Update)
	case models.EditAddDependency:
		return c.AddDependency(*edit.Edge)
	case models.EditRemoveDependency:
		return c.RemoveDependency(edit.EdgeID)
	case models.EditUpdateDependency:
		return c.UpdateDependency(edit.EdgeID, edit.Type, edit.Condition)
	default:
		return fmt.Errorf("%w: unknown op %q", constellation.ErrInvalidEdit, edit.Op)
	}
}
