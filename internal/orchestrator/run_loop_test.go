package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbitalworks/orrery/internal/constellation"
	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/planner"
	"github.com/orbitalworks/orrery/internal/worker"
	"github.com/orbitalworks/orrery/pkg/models"
)

// eventRecorder is a wildcard observer capturing event types in order.
type eventRecorder struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *eventRecorder) Name() string { return "test-recorder" }

func (r *eventRecorder) OnEvent(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
	return nil
}

func (r *eventRecorder) seen() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Type{}, r.types...)
}

// chainConstellation builds a -> b -> c with success edges.
func chainConstellation(t *testing.T) *constellation.Constellation {
	t.Helper()
	c := constellation.New("test-chain")
	for _, id := range []string{"a", "b", "c"} {
		if err := c.AddTask(models.TaskStar{ID: id, Name: id}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	for _, edge := range []models.DependencyEdge{
		{ID: "e-ab", From: "a", To: "b"},
		{ID: "e-bc", From: "b", To: "c"},
	} {
		if err := c.AddDependency(edge); err != nil {
			t.Fatalf("AddDependency(%s): %v", edge.ID, err)
		}
	}
	return c
}

func newTestOrchestrator(t *testing.T, c *constellation.Constellation, tr worker.Transport, opts ...Option) *Orchestrator {
	t.Helper()
	orch, err := New(RequiredConfig{
		Constellation: c,
		Transport:     tr,
		Bus:           events.NewBus(nil),
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch
}

func TestNew_RequiredFields(t *testing.T) {
	c := constellation.New("test")
	tr := worker.NewSimulatedTransport(0)
	bus := events.NewBus(nil)

	if _, err := New(RequiredConfig{Transport: tr, Bus: bus}); err == nil {
		t.Error("missing constellation should be rejected")
	}
	if _, err := New(RequiredConfig{Constellation: c, Bus: bus}); err == nil {
		t.Error("missing transport should be rejected")
	}
	if _, err := New(RequiredConfig{Constellation: c, Transport: tr}); err == nil {
		t.Error("missing bus should be rejected")
	}
	if _, err := New(RequiredConfig{Constellation: c, Transport: tr, Bus: bus}); err != nil {
		t.Errorf("complete config rejected: %v", err)
	}
}

func TestRun_ChainCompletes(t *testing.T) {
	c := chainConstellation(t)
	tr := worker.NewSimulatedTransport(0)
	orch := newTestOrchestrator(t, c, tr)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := c.Status(); got != models.ConstellationCompleted {
		t.Errorf("final status = %q, want completed", got)
	}
	dispatched := tr.Dispatched()
	if len(dispatched) != 3 || dispatched[0] != "a" || dispatched[1] != "b" || dispatched[2] != "c" {
		t.Errorf("dispatch order = %v, want [a b c]", dispatched)
	}
	for _, id := range []string{"a", "b", "c"} {
		task, _ := c.Task(id)
		if task.State != models.TaskCompleted {
			t.Errorf("task %s state = %q, want completed", id, task.State)
		}
	}
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	c := chainConstellation(t)
	tr := worker.NewSimulatedTransport(0)
	bus := events.NewBus(nil)
	rec := &eventRecorder{}
	bus.Subscribe(rec)

	orch, err := New(RequiredConfig{Constellation: c, Transport: tr, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := rec.seen()
	if len(seen) == 0 || seen[0] != events.ConstellationStarted {
		t.Errorf("first event = %v, want CONSTELLATION_STARTED", seen)
	}
	if seen[len(seen)-1] != events.ConstellationCompleted {
		t.Errorf("last event = %v, want CONSTELLATION_COMPLETED", seen[len(seen)-1])
	}
	var started, completed int
	for _, et := range seen {
		switch et {
		case events.TaskStarted:
			started++
		case events.TaskCompleted:
			completed++
		}
	}
	if started != 3 || completed != 3 {
		t.Errorf("task events = %d started, %d completed, want 3 and 3", started, completed)
	}
}

func TestRun_FailureBlocksDependents(t *testing.T) {
	c := chainConstellation(t)
	tr := worker.NewSimulatedTransport(0)
	tr.ScriptOutcome("a", worker.Script{Status: worker.StatusFailure, Error: "boom"})
	bus := events.NewBus(nil)
	rec := &eventRecorder{}
	bus.Subscribe(rec)
	orch, err := New(RequiredConfig{Constellation: c, Transport: tr, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := c.Status(); got != models.ConstellationFailed {
		t.Errorf("final status = %q, want failed", got)
	}
	seen := rec.seen()
	if len(seen) == 0 || seen[len(seen)-1] != events.ConstellationFailed {
		t.Errorf("last event = %v, want CONSTELLATION_FAILED", seen)
	}
	if dispatched := tr.Dispatched(); len(dispatched) != 1 || dispatched[0] != "a" {
		t.Errorf("dispatched = %v, want only [a]", dispatched)
	}
	task, _ := c.Task("b")
	if task.State != models.TaskWaitingDependency {
		t.Errorf("blocked task b state = %q, want waiting_dependency", task.State)
	}
}

func TestRun_UnknownOutcomeTreatedAsFailure(t *testing.T) {
	c := constellation.New("test")
	c.AddTask(models.TaskStar{ID: "a", Name: "a"})
	tr := worker.NewSimulatedTransport(0)
	tr.ScriptOutcome("a", worker.Script{Status: worker.StatusUnknown})
	orch := newTestOrchestrator(t, c, tr)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	task, _ := c.Task("a")
	if task.State != models.TaskFailed {
		t.Errorf("task state = %q, want failed", task.State)
	}
	if task.Error != "unknown terminal state" {
		t.Errorf("task error = %q, want unknown terminal state", task.Error)
	}
}

func TestRun_PlannerRetriesFailedTask(t *testing.T) {
	c := constellation.New("test")
	c.AddTask(models.TaskStar{ID: "a", Name: "a"})
	tr := worker.NewSimulatedTransport(0)
	tr.ScriptOutcome("a", worker.Script{Status: worker.StatusFailure, Error: "flaky"})
	orch := newTestOrchestrator(t, c, tr,
		WithPlanner(planner.NewHeuristic(1)),
		WithWaitTimeout(2*time.Second),
		WithModificationTimeout(2*time.Second))

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, id := range tr.Dispatched() {
		if id == "a-retry-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dispatched = %v, want a-retry-1 included", tr.Dispatched())
	}
	task, ok := c.Task("a-retry-1")
	if !ok {
		t.Fatal("retry task not present in final graph")
	}
	if task.State != models.TaskCompleted {
		t.Errorf("retry task state = %q, want completed", task.State)
	}
}

// slowPlanner answers with no edits after a fixed delay and records when
// each answer was given.
type slowPlanner struct {
	delay time.Duration

	mu       sync.Mutex
	answered []time.Time
}

func (p *slowPlanner) PlanEdits(ctx context.Context, _ []events.Event, _ *models.Snapshot) ([]models.GraphEdit, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = append(p.answered, time.Now())
	return nil, nil
}

func (p *slowPlanner) answers() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time{}, p.answered...)
}

func TestRun_DispatchWaitsForPendingModifications(t *testing.T) {
	c := constellation.New("test")
	c.AddTask(models.TaskStar{ID: "a", Name: "a"})
	c.AddTask(models.TaskStar{ID: "b", Name: "b"})
	c.AddDependency(models.DependencyEdge{ID: "e-ab", From: "a", To: "b"})

	var mu sync.Mutex
	dispatchedAt := make(map[string]time.Time)
	tr := worker.TransportFunc(func(_ context.Context, task models.TaskStar) (*worker.Outcome, error) {
		mu.Lock()
		dispatchedAt[task.ID] = time.Now()
		mu.Unlock()
		return &worker.Outcome{TaskID: task.ID, Status: worker.StatusSuccess}, nil
	})

	pl := &slowPlanner{delay: 200 * time.Millisecond}
	orch := newTestOrchestrator(t, c, tr,
		WithPlanner(pl),
		WithWaitTimeout(5*time.Second),
		WithModificationTimeout(5*time.Second))

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	answers := pl.answers()
	if len(answers) == 0 {
		t.Fatal("planner was never consulted")
	}
	mu.Lock()
	bAt, ok := dispatchedAt["b"]
	mu.Unlock()
	if !ok {
		t.Fatal("task b was never dispatched")
	}
	// a's completion leaves a pending modification record; b must not be
	// handed to the transport until the planner's answer has been applied
	// and the record resolved.
	if bAt.Before(answers[0]) {
		t.Errorf("task b dispatched %v before the planner answered",
			answers[0].Sub(bAt))
	}
	if got := c.Status(); got != models.ConstellationCompleted {
		t.Errorf("final status = %q, want completed", got)
	}
}

func TestRun_Cancellation(t *testing.T) {
	c := constellation.New("test")
	c.AddTask(models.TaskStar{ID: "slow", Name: "slow"})
	tr := worker.NewSimulatedTransport(time.Minute)
	orch := newTestOrchestrator(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := orch.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run did not return promptly after cancellation")
	}
}

func TestRun_StopSignal(t *testing.T) {
	c := chainConstellation(t)
	tr := worker.NewSimulatedTransport(100 * time.Millisecond)
	orch := newTestOrchestrator(t, c, tr)

	go func() {
		time.Sleep(20 * time.Millisecond)
		orch.Pause().Stop()
	}()

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run after stop: %v", err)
	}

	// Task a finishes (in-flight runs to completion) but nothing new is
	// dispatched once the stop is observed.
	if dispatched := tr.Dispatched(); len(dispatched) != 1 {
		t.Errorf("dispatched = %v, want only the in-flight task", dispatched)
	}
}

func TestRun_MaxWorkersBoundsConcurrency(t *testing.T) {
	c := constellation.New("test")
	for _, id := range []string{"a", "b", "c", "d"} {
		c.AddTask(models.TaskStar{ID: id, Name: id})
	}

	var inflight, peak atomic.Int64
	tr := worker.TransportFunc(func(ctx context.Context, task models.TaskStar) (*worker.Outcome, error) {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return &worker.Outcome{TaskID: task.ID, Status: worker.StatusSuccess}, nil
	})

	orch := newTestOrchestrator(t, c, tr, WithMaxWorkers(2))
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak.Load())
	}
	if got := c.Status(); got != models.ConstellationCompleted {
		t.Errorf("final status = %q, want completed", got)
	}
}

func TestRun_OrderingOverride(t *testing.T) {
	c := constellation.New("test")
	for _, id := range []string{"a", "b", "c"} {
		c.AddTask(models.TaskStar{ID: id, Name: id})
	}
	tr := worker.NewSimulatedTransport(0)

	reverse := func(ids []string, _ *models.Snapshot) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[len(ids)-1-i] = id
		}
		return out
	}

	orch := newTestOrchestrator(t, c, tr, WithMaxWorkers(1), WithOrdering(reverse))
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := tr.Dispatched()[0]
	if first != "c" {
		t.Errorf("first dispatch = %s, want c under reverse ordering", first)
	}
}

func TestRun_EmptyConstellationDrainsImmediately(t *testing.T) {
	c := constellation.New("empty")
	orch := newTestOrchestrator(t, c, worker.NewSimulatedTransport(0))

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("empty constellation did not drain")
	}
}
