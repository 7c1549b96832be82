// Package observers provides the reactive components subscribed to the
// event bus: the modification synchronizer that blocks dispatch while the
// planner edits the graph, the progress queue feeding the planner, the
// audit trail, and the metrics observer.
package observers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/promise"
	"github.com/orbitalworks/orrery/pkg/models"
)

// DefaultModificationTimeout bounds how long a pending modification may
// stay unresolved before it is force-resolved.
const DefaultModificationTimeout = 600 * time.Second

// PendingModification tracks one in-flight structural edit, keyed by the
// task whose completion triggered it.
type PendingModification struct {
	// TaskID is the triggering task.
	TaskID string
	// CreatedAt is when the record was registered.
	CreatedAt time.Time

	handle *promise.Promise
	cancel context.CancelFunc
}

// SynchronizerStats is an introspection snapshot of the synchronizer.
type SynchronizerStats struct {
	// Pending is the current number of unresolved records.
	Pending int
	// Registered counts every record ever created.
	Registered uint64
	// Resolved counts records released by a modification event.
	Resolved uint64
	// TimedOut counts records force-resolved by their watcher.
	TimedOut uint64
	// OldestAge is the age of the longest-outstanding record, zero when
	// nothing is pending.
	OldestAge time.Duration
}

// ModificationSynchronizer guarantees the orchestration loop never computes
// ready tasks from a graph that a structural edit is actively mutating. It
// observes task-completion events to register pending records and
// modification events to release them; a per-record watcher force-resolves
// records the planner never answers, so a stalled planner cannot wedge the
// loop (liveness, not an error).
type ModificationSynchronizer struct {
	mu      sync.Mutex
	pending map[string]*PendingModification
	latest  *models.Snapshot
	closed  bool

	timeout     time.Duration
	waitTimeout time.Duration
	logger      *zap.Logger

	registered atomic.Uint64
	resolved   atomic.Uint64
	timedOut   atomic.Uint64

	// onTimeout, when set, is called once per forced timeout resolution.
	onTimeout func()
}

// SetTimeoutCallback installs a hook invoked on every forced timeout
// resolution, used to feed the metrics collector.
func (s *ModificationSynchronizer) SetTimeoutCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTimeout = fn
}

// NewModificationSynchronizer creates a synchronizer. A non-positive
// timeout falls back to DefaultModificationTimeout; a non-positive
// waitTimeout falls back to the modification timeout. A nil logger is
// replaced with a no-op one.
func NewModificationSynchronizer(timeout, waitTimeout time.Duration, logger *zap.Logger) *ModificationSynchronizer {
	if timeout <= 0 {
		timeout = DefaultModificationTimeout
	}
	if waitTimeout <= 0 {
		waitTimeout = timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModificationSynchronizer{
		pending:     make(map[string]*PendingModification),
		timeout:     timeout,
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// Name implements events.Observer.
func (s *ModificationSynchronizer) Name() string { return "modification-synchronizer" }

// OnEvent implements events.Observer. Task terminal events register a
// pending record; modification events resolve the records named by their
// trigger list.
func (s *ModificationSynchronizer) OnEvent(_ context.Context, ev events.Event) error {
	switch ev.Type {
	case events.TaskCompleted, events.TaskFailed:
		if ev.Task != nil && ev.Task.TaskID != "" {
			s.register(ev.Task.TaskID)
		}
	case events.ConstellationModified:
		if ev.Constellation == nil {
			return nil
		}
		s.mu.Lock()
		if ev.Constellation.New != nil {
			s.latest = ev.Constellation.New
		}
		s.mu.Unlock()
		s.resolve(ev.Constellation.TriggerTasks)
	}
	return nil
}

// register creates a pending record for the triggering task and starts its
// timeout watcher. A stale record for the same task is force-resolved
// first so its waiters are not orphaned.
func (s *ModificationSynchronizer) register(taskID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if old, ok := s.pending[taskID]; ok {
		old.cancel()
		old.handle.Resolve(promise.Resolution{Forced: true, Reason: "replaced by newer completion"})
		delete(s.pending, taskID)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	rec := &PendingModification{
		TaskID:    taskID,
		CreatedAt: time.Now(),
		handle:    promise.New(),
		cancel:    cancel,
	}
	s.pending[taskID] = rec
	s.registered.Add(1)
	s.mu.Unlock()

	s.logger.Debug("pending modification registered", zap.String("task_id", taskID))
	go s.watch(watchCtx, rec)
}

// watch force-resolves the record if it is still unresolved when the
// modification timeout fires. This is the deadlock-safety valve: the loop
// proceeds with whatever graph state is available.
func (s *ModificationSynchronizer) watch(ctx context.Context, rec *PendingModification) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-rec.handle.Done():
		return
	case <-timer.C:
	}

	if rec.handle.Resolve(promise.Resolution{Forced: true, Reason: "modification timeout"}) {
		s.timedOut.Add(1)
		s.logger.Warn("pending modification timed out",
			zap.String("task_id", rec.TaskID),
			zap.Duration("timeout", s.timeout),
			zap.Duration("age", time.Since(rec.CreatedAt)))
		s.mu.Lock()
		if cur, ok := s.pending[rec.TaskID]; ok && cur == rec {
			delete(s.pending, rec.TaskID)
		}
		hook := s.onTimeout
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
	}
}

// resolve releases the records named by the trigger list. An empty list
// releases every pending record.
func (s *ModificationSynchronizer) resolve(triggerTasks []string) {
	s.mu.Lock()
	var released []*PendingModification
	if len(triggerTasks) == 0 {
		for id, rec := range s.pending {
			released = append(released, rec)
			delete(s.pending, id)
		}
	} else {
		for _, id := range triggerTasks {
			if rec, ok := s.pending[id]; ok {
				released = append(released, rec)
				delete(s.pending, id)
			}
		}
	}
	s.mu.Unlock()

	for _, rec := range released {
		rec.cancel()
		if rec.handle.Resolve(promise.Resolution{Reason: "constellation modified"}) {
			s.resolved.Add(1)
			s.logger.Debug("pending modification resolved",
				zap.String("task_id", rec.TaskID),
				zap.Duration("age", time.Since(rec.CreatedAt)))
		}
	}
}

// WaitForPendingModifications blocks until the pending set is observed
// empty, returning true. New records can be registered while waiting, so
// the wait loops: snapshot the current handles, wait for all of them, then
// re-check. Returns false when the overall timeout (or the context) ends
// first. A non-positive timeout uses the configured wait timeout.
func (s *ModificationSynchronizer) WaitForPendingModifications(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.waitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		s.mu.Lock()
		handles := make([]*promise.Promise, 0, len(s.pending))
		for _, rec := range s.pending {
			handles = append(handles, rec.handle)
		}
		s.mu.Unlock()

		if len(handles) == 0 {
			return true
		}
		for _, h := range handles {
			if _, err := h.Wait(waitCtx); err != nil {
				return false
			}
		}
		// Re-check: a second task may have completed mid-wait.
	}
}

// MergeConstellationStates combines a planner-edited snapshot with the
// orchestrator's execution-state view. The edited snapshot's structure is
// the base; per task the more advanced execution state wins, so a
// structural edit can never regress a task's lifecycle. At equal rank the
// executed side wins, which keeps the orchestrator's terminal outcome when
// the two views disagree on completed versus failed. Tasks present only in
// the executed view are carried over unchanged, appended in their original
// insertion order.
func (s *ModificationSynchronizer) MergeConstellationStates(edited, executed *models.Snapshot) *models.Snapshot {
	if edited == nil {
		return executed.Clone()
	}
	if executed == nil {
		return edited.Clone()
	}

	out := edited.Clone()
	execByID := make(map[string]models.TaskStar, len(executed.Tasks))
	for _, t := range executed.Tasks {
		execByID[t.ID] = t
	}

	for i := range out.Tasks {
		exec, ok := execByID[out.Tasks[i].ID]
		if !ok {
			continue
		}
		if exec.State.Rank() >= out.Tasks[i].State.Rank() {
			out.Tasks[i].State = exec.State
			out.Tasks[i].Result = exec.Result
			out.Tasks[i].Error = exec.Error
			if exec.WorkerID != "" {
				out.Tasks[i].WorkerID = exec.WorkerID
			}
			if exec.CompletedAt != nil {
				at := *exec.CompletedAt
				out.Tasks[i].CompletedAt = &at
			}
		}
	}

	editedIDs := make(map[string]bool, len(out.Tasks))
	for _, t := range out.Tasks {
		editedIDs[t.ID] = true
	}
	for _, id := range executed.Order {
		if editedIDs[id] {
			continue
		}
		t, ok := execByID[id]
		if !ok {
			continue
		}
		out.Tasks = append(out.Tasks, t.Clone())
		out.Order = append(out.Order, id)
	}

	out.Status = models.ComputeStatus(out.Tasks, out.Edges)
	return out
}

// LatestEdited returns the most recently observed planner-edited snapshot,
// or nil if no modification event has arrived yet.
func (s *ModificationSynchronizer) LatestEdited() *models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// PendingCount returns the number of unresolved records.
func (s *ModificationSynchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// HasPending reports whether any record is unresolved.
func (s *ModificationSynchronizer) HasPending() bool {
	return s.PendingCount() > 0
}

// Statistics returns an introspection snapshot.
func (s *ModificationSynchronizer) Statistics() SynchronizerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SynchronizerStats{
		Pending:    len(s.pending),
		Registered: s.registered.Load(),
		Resolved:   s.resolved.Load(),
		TimedOut:   s.timedOut.Load(),
	}
	for _, rec := range s.pending {
		if age := time.Since(rec.CreatedAt); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	return stats
}

// Close stops every watcher and force-resolves outstanding records so no
// waiter blocks past shutdown. The synchronizer registers nothing after
// Close.
func (s *ModificationSynchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	outstanding := make([]*PendingModification, 0, len(s.pending))
	for id, rec := range s.pending {
		outstanding = append(outstanding, rec)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, rec := range outstanding {
		rec.cancel()
		rec.handle.Resolve(promise.Resolution{Forced: true, Reason: "synchronizer closed"})
	}
}
