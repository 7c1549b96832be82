package planner

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/observers"
)

// defaultMaxBatch bounds how many progress events are handed to the
// planner in one call.
const defaultMaxBatch = 16

// Runner drains the progress queue, batches completion events that arrived
// close together, asks the planner for edits, and applies them through the
// editor in a single call carrying every trigger ID in the batch. A batch
// that needs no structural change still goes through an empty Apply so the
// synchronizer's pending records resolve promptly instead of waiting out
// their timeout.
type Runner struct {
	queue    *observers.ProgressQueue
	planner  Planner
	editor   GraphEditor
	maxBatch int
	logger   *zap.Logger
}

// NewRunner creates a planner runner.
func NewRunner(queue *observers.ProgressQueue, p Planner, editor GraphEditor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:    queue,
		planner:  p,
		editor:   editor,
		maxBatch: defaultMaxBatch,
		logger:   logger,
	}
}

// Run processes progress events until the context ends.
func (r *Runner) Run(ctx context.Context) error {
	for {
		ev, err := r.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		batch := append([]events.Event{ev}, r.queue.DrainBatch(r.maxBatch-1)...)
		r.handleBatch(ctx, batch)
	}
}

// handleBatch runs one plan/apply cycle for a batch of progress events.
func (r *Runner) handleBatch(ctx context.Context, batch []events.Event) {
	triggers := triggerIDs(batch)
	view := r.editor.View()

	edits, err := r.planner.PlanEdits(ctx, batch, view)
	if err != nil {
		// The planner gets no second chance for this batch; the
		// synchronizer's timeout is the liveness backstop.
		r.logger.Warn("planner failed, pending modifications will time out",
			zap.Strings("trigger_tasks", triggers),
			zap.Error(err))
		return
	}

	if err := r.editor.Apply(ctx, triggers, edits); err != nil {
		r.logger.Warn("planner edits rejected",
			zap.Strings("trigger_tasks", triggers),
			zap.Int("edits", len(edits)),
			zap.Error(err))
		return
	}
	r.logger.Debug("planner batch applied",
		zap.Strings("trigger_tasks", triggers),
		zap.Int("edits", len(edits)))
}

// triggerIDs extracts the distinct task IDs from a batch of task events.
func triggerIDs(batch []events.Event) []string {
	seen := make(map[string]bool, len(batch))
	var ids []string
	for _, ev := range batch {
		if ev.Task == nil || ev.Task.TaskID == "" || seen[ev.Task.TaskID] {
			continue
		}
		seen[ev.Task.TaskID] = true
		ids = append(ids, ev.Task.TaskID)
	}
	return ids
}
