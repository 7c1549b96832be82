// Package orchestrator drives a constellation to completion: it waits for
// pending structural modifications to settle, computes ready tasks,
// dispatches them concurrently to workers, observes outcomes, and
// publishes lifecycle events until the graph drains.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/orbitalworks/orrery/internal/constellation"
	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/metrics"
	"github.com/orbitalworks/orrery/internal/observers"
	"github.com/orbitalworks/orrery/internal/planner"
	"github.com/orbitalworks/orrery/internal/state"
	"github.com/orbitalworks/orrery/internal/worker"
	"github.com/orbitalworks/orrery/pkg/models"
)

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// Constellation is the task graph to orchestrate.
	Constellation *constellation.Constellation
	// Transport dispatches tasks to workers.
	Transport worker.Transport
	// Bus is the shared event bus for this process.
	Bus *events.Bus
}

// dispatchResult carries one worker outcome back to the loop goroutine.
type dispatchResult struct {
	task    models.TaskStar
	outcome *worker.Outcome
	err     error
	started time.Time
}

// Orchestrator owns the constellation for writes and runs the control
// loop. Observers only ever see snapshots; structural edits arrive through
// the Editor and are merged into the live graph between iterations.
type Orchestrator struct {
	runID string

	constellation *constellation.Constellation
	transport     worker.Transport
	bus           *events.Bus

	synchronizer *observers.ModificationSynchronizer
	progress     *observers.ProgressQueue
	editor       *Editor
	pause        *PauseController

	logger    *zap.Logger
	ledger    *state.Ledger
	collector *metrics.Collector

	planner      planner.Planner
	maxWorkers   int
	waitTimeout  time.Duration
	pollInterval time.Duration
	ordering     OrderingFunc
	signalsDir   string

	sem      *semaphore.Weighted
	outcomes chan dispatchResult

	// mu guards inflight.
	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	// stagedMu guards the staged planner edit.
	stagedMu      sync.Mutex
	staged        *models.Snapshot
	stagedRemoved map[string]bool
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Constellation == nil {
		return nil, fmt.Errorf("constellation is required")
	}
	if req.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if req.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.maxWorkers < 1 {
		options.maxWorkers = 1
	}

	o := &Orchestrator{
		runID:         "run-" + uuid.New().String()[:8],
		constellation: req.Constellation,
		transport:     req.Transport,
		bus:           req.Bus,
		logger:        options.logger,
		ledger:        options.ledger,
		collector:     options.collector,
		planner:       options.planner,
		maxWorkers:    options.maxWorkers,
		waitTimeout:   options.waitTimeout,
		pollInterval:  options.pollInterval,
		ordering:      options.ordering,
		signalsDir:    options.signalsDir,
		sem:           semaphore.NewWeighted(int64(options.maxWorkers)),
		outcomes:      make(chan dispatchResult, options.maxWorkers),
		inflight:      make(map[string]context.CancelFunc),
	}
	o.pause = NewPauseController(options.logger)
	o.editor = &Editor{orch: o}
	o.synchronizer = observers.NewModificationSynchronizer(
		options.modificationTimeout, options.waitTimeout, options.logger)
	if o.collector != nil {
		o.synchronizer.SetTimeoutCallback(o.collector.ModificationTimeout)
	}

	// The synchronizer and progress queue only matter when a planner is
	// attached; without one WaitForPendingModifications short-circuits.
	if o.planner != nil {
		o.progress = observers.NewProgressQueue(options.queueBufferSize, options.logger)
		o.bus.Subscribe(o.synchronizer,
			events.TaskCompleted, events.TaskFailed, events.ConstellationModified)
		o.bus.Subscribe(o.progress, events.TaskCompleted, events.TaskFailed)
	}

	return o, nil
}

// RunID returns the identifier for this orchestration run.
func (o *Orchestrator) RunID() string { return o.runID }

// Editor returns the planner's write port into the constellation.
func (o *Orchestrator) Editor() *Editor { return o.editor }

// Synchronizer exposes the modification synchronizer for introspection.
func (o *Orchestrator) Synchronizer() *observers.ModificationSynchronizer {
	return o.synchronizer
}

// Pause exposes the pause controller.
func (o *Orchestrator) Pause() *PauseController { return o.pause }

// inflightCount returns the number of dispatched tasks without outcomes.
func (o *Orchestrator) inflightCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// cancelInflight cancels every in-flight dispatch.
func (o *Orchestrator) cancelInflight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cancel := range o.inflight {
		cancel()
		delete(o.inflight, id)
	}
}

// stage records a planner-edited snapshot for the loop to merge at the top
// of its next iteration. Removed task IDs accumulate so the merge does not
// resurrect tasks an edit deleted.
func (o *Orchestrator) stage(snap *models.Snapshot, removedTasks []string) {
	o.stagedMu.Lock()
	defer o.stagedMu.Unlock()
	o.staged = snap
	if o.stagedRemoved == nil {
		o.stagedRemoved = make(map[string]bool)
	}
	for _, id := range removedTasks {
		o.stagedRemoved[id] = true
	}
}

// hasStaged reports whether an unmerged planner edit is staged.
func (o *Orchestrator) hasStaged() bool {
	o.stagedMu.Lock()
	defer o.stagedMu.Unlock()
	return o.staged != nil
}

// takeStaged removes and returns the staged edit.
func (o *Orchestrator) takeStaged() (*models.Snapshot, map[string]bool) {
	o.stagedMu.Lock()
	defer o.stagedMu.Unlock()
	snap, removed := o.staged, o.stagedRemoved
	o.staged = nil
	o.stagedRemoved = nil
	return snap, removed
}

// editBase returns the snapshot a new edit batch should be computed
// against: the staged edit when one exists, otherwise the live graph.
func (o *Orchestrator) editBase() *models.Snapshot {
	o.stagedMu.Lock()
	staged := o.staged
	o.stagedMu.Unlock()
	if staged != nil {
		return staged.Clone()
	}
	return o.constellation.SnapshotView()
}

// mergeStagedEdits folds the staged planner edit into the live graph. The
// edited structure is the base; execution states that advanced while the
// planner was thinking are kept, and tasks the edit removed stay removed.
func (o *Orchestrator) mergeStagedEdits() {
	staged, removed := o.takeStaged()
	if staged == nil {
		return
	}

	live := o.constellation.SnapshotView()
	if len(removed) > 0 {
		filtered := &models.Snapshot{
			ConstellationID: live.ConstellationID,
			Status:          live.Status,
			TakenAt:         live.TakenAt,
		}
		for _, t := range live.Tasks {
			if !removed[t.ID] {
				filtered.Tasks = append(filtered.Tasks, t)
			}
		}
		for _, id := range live.Order {
			if !removed[id] {
				filtered.Order = append(filtered.Order, id)
			}
		}
		for _, e := range live.Edges {
			if !removed[e.From] && !removed[e.To] {
				filtered.Edges = append(filtered.Edges, e)
			}
		}
		live = filtered
	}

	merged := o.synchronizer.MergeConstellationStates(staged, live)
	o.constellation.Restore(merged)
	o.logger.Debug("staged edits merged into live constellation",
		zap.String("run_id", o.runID),
		zap.Int("tasks", len(merged.Tasks)))
}

// readyTasks computes the dispatchable tasks, applying the ordering seam.
func (o *Orchestrator) readyTasks() []models.TaskStar {
	ready := o.constellation.ReadyTasks()
	if o.ordering == nil || len(ready) < 2 {
		return ready
	}

	ids := make([]string, len(ready))
	byID := make(map[string]models.TaskStar, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	var ordered []models.TaskStar
	for _, id := range o.ordering(ids, o.constellation.SnapshotView()) {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
			delete(byID, id)
		}
	}
	return ordered
}
