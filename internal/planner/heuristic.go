package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/pkg/models"
)

// Heuristic is a small built-in planner for CLI runs and tests: every
// failed task gets a retry task appended behind a completion edge, up to
// MaxRetries per original task. Successful completions need no edits.
type Heuristic struct {
	// MaxRetries is the retry budget per original task. Zero disables
	// retries entirely.
	MaxRetries int

	mu      sync.Mutex
	retries map[string]int
}

// NewHeuristic creates a heuristic planner with the given retry budget.
func NewHeuristic(maxRetries int) *Heuristic {
	return &Heuristic{
		MaxRetries: maxRetries,
		retries:    make(map[string]int),
	}
}

// PlanEdits implements Planner.
func (h *Heuristic) PlanEdits(_ context.Context, batch []events.Event, view *models.Snapshot) ([]models.GraphEdit, error) {
	var edits []models.GraphEdit
	for _, ev := range batch {
		if ev.Type != events.TaskFailed || ev.Task == nil {
			continue
		}
		origin := originTask(ev.Task.TaskID)

		h.mu.Lock()
		attempt := h.retries[origin] + 1
		if attempt > h.MaxRetries {
			h.mu.Unlock()
			continue
		}
		h.retries[origin] = attempt
		h.mu.Unlock()

		failed := view.Task(ev.Task.TaskID)
		if failed == nil {
			continue
		}
		retryID := fmt.Sprintf("%s-retry-%d", origin, attempt)
		if view.Task(retryID) != nil {
			continue
		}
		edits = append(edits,
			models.GraphEdit{
				Op: models.EditAddTask,
				Task: &models.TaskStar{
					ID:          retryID,
					Name:        failed.Name + " (retry)",
					Description: failed.Description,
					WorkerID:    failed.WorkerID,
					Metadata:    failed.Metadata,
				},
			},
			models.GraphEdit{
				Op: models.EditAddDependency,
				Edge: &models.DependencyEdge{
					ID:   fmt.Sprintf("dep-%s-%s", ev.Task.TaskID, retryID),
					From: ev.Task.TaskID,
					To:   retryID,
					Type: models.DependencyCompletion,
				},
			})
	}
	return edits, nil
}

// originTask strips retry suffixes so the retry budget tracks the original
// task across chained retries.
func originTask(id string) string {
	if i := strings.Index(id, "-retry-"); i >= 0 {
		return id[:i]
	}
	return id
}
