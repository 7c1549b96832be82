package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/planner"
	"github.com/orbitalworks/orrery/internal/worker"
	"github.com/orbitalworks/orrery/pkg/models"
)

// Run drives the orchestration loop until the constellation drains, the
// context ends, or a stop signal arrives. It returns nil when the
// constellation drained (completed or failed) and the context error on
// cancellation. In-flight dispatches are cancelled and outstanding pending
// modifications force-resolved before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer o.synchronizer.Close()

	if o.signalsDir != "" {
		watcher, err := NewSignalWatcher(o.signalsDir, o.pause, o.logger)
		if err != nil {
			o.logger.Warn("signal watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}
	if o.planner != nil {
		runner := planner.NewRunner(o.progress, o.planner, o.editor, o.logger)
		go func() {
			if err := runner.Run(runCtx); err != nil {
				o.logger.Warn("planner runner exited", zap.Error(err))
			}
		}()
	}

	snap := o.constellation.SnapshotView()
	o.logger.Info("constellation started",
		zap.String("run_id", o.runID),
		zap.String("constellation_id", snap.ConstellationID),
		zap.Int("tasks", len(snap.Tasks)))
	o.ledgerStartRun(snap.ConstellationID)
	o.bus.Publish(runCtx, events.Event{
		Type:   events.ConstellationStarted,
		Source: o.runID,
		Constellation: &events.ConstellationEventData{
			ConstellationID: snap.ConstellationID,
			New:             snap,
		},
	})

	err := o.loop(runCtx)
	if err != nil && !errors.Is(err, ErrStopped) {
		o.cancelInflight()
		o.ledgerFinishRun("cancelled")
		return err
	}
	if errors.Is(err, ErrStopped) {
		o.cancelInflight()
		o.logger.Info("constellation stopped by signal", zap.String("run_id", o.runID))
		o.ledgerFinishRun("stopped")
		return nil
	}

	final := o.constellation.SnapshotView()
	eventType := events.ConstellationCompleted
	if final.Status == models.ConstellationFailed {
		eventType = events.ConstellationFailed
	}
	o.bus.Publish(runCtx, events.Event{
		Type:   eventType,
		Source: o.runID,
		Constellation: &events.ConstellationEventData{
			ConstellationID: final.ConstellationID,
			New:             final,
		},
	})
	o.logger.Info("constellation drained",
		zap.String("run_id", o.runID),
		zap.String("status", string(final.Status)))
	o.ledgerFinishRun(string(final.Status))
	return nil
}

// loop is the single logical control flow: no two iterations of
// ready-check and dispatch interleave, and all graph writes happen here or
// in the mutators it calls.
func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		if err := o.pause.WaitIfPaused(ctx); err != nil {
			return err
		}

		// Never compute ready tasks against a graph mid-edit. A wait
		// timeout is liveness, not an error: the loop proceeds with
		// whatever graph state is available.
		if o.planner != nil && o.synchronizer.HasPending() {
			waitStart := time.Now()
			if !o.synchronizer.WaitForPendingModifications(ctx, o.waitTimeout) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Warn("wait for pending modifications timed out, proceeding",
					zap.String("run_id", o.runID),
					zap.Int("pending", o.synchronizer.PendingCount()))
			}
			if o.collector != nil {
				o.collector.WaitObserved(time.Since(waitStart))
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.mergeStagedEdits()

		ready := o.readyTasks()
		if len(ready) == 0 && o.inflightCount() == 0 &&
			!o.synchronizer.HasPending() && !o.hasStaged() {
			return nil // drained
		}

		for _, task := range ready {
			if err := o.dispatch(ctx, task); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Error("dispatch failed",
					zap.String("task_id", task.ID),
					zap.Error(err))
			}
		}

		if o.inflightCount() > 0 {
			select {
			case res := <-o.outcomes:
				o.handleOutcome(ctx, res)
				o.drainOutcomes(ctx)
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if len(ready) == 0 {
			// Pending modifications or staged edits only: poll briefly.
			select {
			case <-time.After(o.pollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// drainOutcomes handles any further outcomes without blocking, so a wave
// of near-simultaneous completions is folded into one iteration.
func (o *Orchestrator) drainOutcomes(ctx context.Context) {
	for {
		select {
		case res := <-o.outcomes:
			o.handleOutcome(ctx, res)
		default:
			return
		}
	}
}

// dispatch marks a task running and hands it to the transport on its own
// goroutine. The semaphore bounds concurrent dispatches.
func (o *Orchestrator) dispatch(ctx context.Context, task models.TaskStar) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if _, err := o.constellation.MarkTaskState(task.ID, models.TaskRunning, "", ""); err != nil {
		o.sem.Release(1)
		return err
	}

	o.logger.Info("task dispatched",
		zap.String("run_id", o.runID),
		zap.String("task_id", task.ID),
		zap.String("worker_id", task.WorkerID))
	o.ledgerTransition(task.ID, models.TaskRunning, "", "")
	if o.collector != nil {
		o.collector.TaskDispatched()
	}
	o.bus.Publish(ctx, events.Event{
		Type:   events.TaskStarted,
		Source: o.runID,
		Task: &events.TaskEventData{
			TaskID: task.ID,
			State:  models.TaskRunning,
		},
	})

	taskCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.inflight[task.ID] = cancel
	o.mu.Unlock()

	started := time.Now()
	go func() {
		defer o.sem.Release(1)
		outcome, err := o.transport.Dispatch(taskCtx, task)
		o.outcomes <- dispatchResult{task: task, outcome: outcome, err: err, started: started}
	}()
	return nil
}

// handleOutcome folds one worker outcome into the graph and publishes the
// matching lifecycle event, which is what seeds the synchronizer's pending
// modification record.
func (o *Orchestrator) handleOutcome(ctx context.Context, res dispatchResult) {
	o.mu.Lock()
	cancel, ok := o.inflight[res.task.ID]
	delete(o.inflight, res.task.ID)
	o.mu.Unlock()
	if ok {
		cancel()
	}

	taskID := res.task.ID
	duration := time.Since(res.started)

	var (
		state     models.TaskState
		eventType events.Type
		result    string
		errMsg    string
	)
	switch {
	case res.err != nil:
		state, eventType = models.TaskFailed, events.TaskFailed
		errMsg = res.err.Error()
	case res.outcome == nil || res.outcome.Status == worker.StatusUnknown:
		// Neither success nor failure was recorded: a bug in the worker
		// or transport layer. Treated as failure.
		o.logger.Warn("worker reported unknown terminal state",
			zap.String("run_id", o.runID),
			zap.String("task_id", taskID))
		state, eventType = models.TaskFailed, events.TaskFailed
		errMsg = "unknown terminal state"
	case res.outcome.Status == worker.StatusSuccess:
		state, eventType = models.TaskCompleted, events.TaskCompleted
		result = res.outcome.Result
	default:
		state, eventType = models.TaskFailed, events.TaskFailed
		result = res.outcome.Result
		errMsg = res.outcome.Error
	}

	newlyReady, err := o.constellation.MarkTaskState(taskID, state, result, errMsg)
	if err != nil {
		o.logger.Error("mark task state failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}

	o.logger.Info("task finished",
		zap.String("run_id", o.runID),
		zap.String("task_id", taskID),
		zap.String("state", string(state)),
		zap.Duration("duration", duration),
		zap.Strings("newly_ready", newlyReady))
	o.ledgerTransition(taskID, state, result, errMsg)
	if o.collector != nil {
		if state == models.TaskCompleted {
			o.collector.TaskCompleted(duration)
		} else {
			o.collector.TaskFailed(duration)
		}
	}

	o.bus.Publish(ctx, events.Event{
		Type:   eventType,
		Source: o.runID,
		Task: &events.TaskEventData{
			TaskID:     taskID,
			State:      state,
			Result:     result,
			Error:      errMsg,
			NewlyReady: newlyReady,
		},
	})
}

// ledgerStartRun records the run start; a nil ledger disables recording.
func (o *Orchestrator) ledgerStartRun(constellationID string) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.StartRun(o.runID, constellationID); err != nil {
		o.logger.Warn("ledger start run failed", zap.Error(err))
	}
}

func (o *Orchestrator) ledgerFinishRun(status string) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.FinishRun(o.runID, status); err != nil {
		o.logger.Warn("ledger finish run failed", zap.Error(err))
	}
}

func (o *Orchestrator) ledgerModification(triggerTasks []string, diff *models.SnapshotDiff) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordModification(o.runID, triggerTasks, diff); err != nil {
		o.logger.Warn("ledger modification failed", zap.Error(err))
	}
}

func (o *Orchestrator) ledgerTransition(taskID string, state models.TaskState, result, errMsg string) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordTransition(o.runID, taskID, state, result, errMsg); err != nil {
		o.logger.Warn("ledger transition failed",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
