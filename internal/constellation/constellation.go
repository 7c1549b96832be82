// Package constellation provides the task DAG under orchestration: task
// stars keyed by stable IDs, dependency edges with satisfaction semantics,
// and consistency-preserving mutators that reject edits which would leave
// the graph cyclic or dangling.
package constellation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalworks/orrery/pkg/models"
)

// ErrCycleDetected indicates an edit would introduce a circular dependency.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrInvalidEdit indicates an edit targets a task or edge in a state that
// does not permit the mutation, or carries invalid fields.
var ErrInvalidEdit = errors.New("invalid edit")

// ErrTaskNotFound indicates an edit references an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrEdgeNotFound indicates an edit references an unknown dependency ID.
var ErrEdgeNotFound = errors.New("dependency not found")

// Constellation is a directed acyclic graph of task stars. Tasks and edges
// are stored in maps keyed by stable IDs so structural mutation is safe
// while other components iterate over snapshots.
type Constellation struct {
	mu sync.RWMutex
	// id identifies this constellation across events and the ledger.
	id string
	// tasks maps task ID to the task star.
	tasks map[string]*models.TaskStar
	// edges maps dependency ID to the edge.
	edges map[string]*models.DependencyEdge
	// order records task IDs in insertion sequence for deterministic
	// ready-task ordering.
	order []string
	// incoming maps task ID to the IDs of edges pointing at it.
	incoming map[string][]string
	// outgoing maps task ID to the IDs of edges leaving it.
	outgoing map[string][]string
}

// New creates an empty constellation. An empty id gets a generated one.
func New(id string) *Constellation {
	if id == "" {
		id = "constellation-" + uuid.New().String()[:8]
	}
	return &Constellation{
		id:       id,
		tasks:    make(map[string]*models.TaskStar),
		edges:    make(map[string]*models.DependencyEdge),
		incoming: make(map[string][]string),
		outgoing: make(map[string][]string),
	}
}

// FromSnapshot builds a constellation from a snapshot, preserving the
// snapshot's task states and insertion order.
func FromSnapshot(snap *models.Snapshot) *Constellation {
	c := New(snap.ConstellationID)
	c.Restore(snap)
	return c
}

// ID returns the constellation identifier.
func (c *Constellation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Len returns the number of tasks in the constellation.
func (c *Constellation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// Task returns a copy of the task with the given ID.
func (c *Constellation) Task(id string) (models.TaskStar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return models.TaskStar{}, false
	}
	return t.Clone(), true
}

// AddTask inserts a new task star. New tasks default to pending; a task
// created with an explicit state must use pending or waiting_dependency.
func (c *Constellation) AddTask(task models.TaskStar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("%w: task ID is empty", ErrInvalidEdit)
	}
	if _, exists := c.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s already exists", ErrInvalidEdit, task.ID)
	}
	if task.State == "" {
		task.State = models.TaskPending
	}
	if task.State != models.TaskPending && task.State != models.TaskWaitingDependency {
		return fmt.Errorf("%w: new task %s must start pending or waiting, got %s", ErrInvalidEdit, task.ID, task.State)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	stored := task.Clone()
	c.tasks[task.ID] = &stored
	c.order = append(c.order, task.ID)
	return nil
}

// RemoveTask removes a task and every edge touching it. Only tasks that
// have not been dispatched (pending or waiting_dependency) may be removed.
func (c *Constellation) RemoveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.State != models.TaskPending && task.State != models.TaskWaitingDependency {
		return fmt.Errorf("%w: cannot remove task %s in state %s", ErrInvalidEdit, id, task.State)
	}

	for _, edgeID := range append(append([]string{}, c.incoming[id]...), c.outgoing[id]...) {
		c.removeEdgeLocked(edgeID)
	}
	delete(c.tasks, id)
	delete(c.incoming, id)
	delete(c.outgoing, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateTask patches the descriptive fields of a task that has not been
// dispatched yet.
func (c *Constellation) UpdateTask(id string, update models.TaskUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.State != models.TaskPending && task.State != models.TaskWaitingDependency {
		return fmt.Errorf("%w: cannot update task %s in state %s", ErrInvalidEdit, id, task.State)
	}

	if update.Name != nil {
		task.Name = *update.Name
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.WorkerID != nil {
		task.WorkerID = *update.WorkerID
	}
	if update.Metadata != nil {
		if task.Metadata == nil {
			task.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			task.Metadata[k] = v
		}
	}
	return nil
}

// AddDependency inserts a dependency edge. Both endpoints must exist, the
// edge must not duplicate an existing ID, must not point a task at itself,
// and must not close a cycle. A failed add leaves the graph unchanged.
func (c *Constellation) AddDependency(edge models.DependencyEdge) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if edge.ID == "" {
		edge.ID = "dep-" + uuid.New().String()[:8]
	}
	if _, exists := c.edges[edge.ID]; exists {
		return fmt.Errorf("%w: dependency %s already exists", ErrInvalidEdit, edge.ID)
	}
	if edge.From == edge.To {
		return fmt.Errorf("%w: dependency %s points task %s at itself", ErrInvalidEdit, edge.ID, edge.From)
	}
	if _, ok := c.tasks[edge.From]; !ok {
		return fmt.Errorf("%w: dependency source %s", ErrTaskNotFound, edge.From)
	}
	target, ok := c.tasks[edge.To]
	if !ok {
		return fmt.Errorf("%w: dependency target %s", ErrTaskNotFound, edge.To)
	}
	if edge.Type == "" {
		edge.Type = models.DependencySuccess
	}
	if !edge.Type.Valid() {
		return fmt.Errorf("%w: unknown dependency type %q", ErrInvalidEdit, edge.Type)
	}

	// Probe for a cycle before committing: does To already reach From?
	if c.reachesLocked(edge.To, edge.From) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, edge.From, edge.To)
	}

	stored := edge
	c.edges[edge.ID] = &stored
	c.incoming[edge.To] = append(c.incoming[edge.To], edge.ID)
	c.outgoing[edge.From] = append(c.outgoing[edge.From], edge.ID)

	// A pending target with a now-unsatisfied prerequisite is waiting.
	if target.State == models.TaskPending && !stored.Satisfied(c.tasks[edge.From].Clone()) {
		target.State = models.TaskWaitingDependency
	}
	return nil
}

// RemoveDependency removes a dependency edge.
func (c *Constellation) RemoveDependency(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.edges[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	c.removeEdgeLocked(id)
	return nil
}

// UpdateDependency changes the satisfaction type or condition of an edge.
// Type and condition changes cannot introduce a cycle, so only the inputs
// are validated.
func (c *Constellation) UpdateDependency(id string, depType models.DependencyType, condition string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	edge, ok := c.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	if !depType.Valid() {
		return fmt.Errorf("%w: unknown dependency type %q", ErrInvalidEdit, depType)
	}
	edge.Type = depType
	edge.Condition = condition
	return nil
}

// ReadyTasks returns every task that is pending or waiting and whose
// incoming edges are all satisfied, in insertion order.
func (c *Constellation) ReadyTasks() []models.TaskStar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ready []models.TaskStar
	for _, id := range c.readyIDsLocked() {
		ready = append(ready, c.tasks[id].Clone())
	}
	return ready
}

// readyIDsLocked computes ready task IDs in insertion order. Caller must
// hold at least a read lock.
func (c *Constellation) readyIDsLocked() []string {
	var ready []string
	for _, id := range c.order {
		task := c.tasks[id]
		if task.State != models.TaskPending && task.State != models.TaskWaitingDependency {
			continue
		}
		satisfied := true
		for _, edgeID := range c.incoming[id] {
			edge := c.edges[edgeID]
			source, ok := c.tasks[edge.From]
			if !ok || !edge.Satisfied(source.Clone()) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkTaskState transitions a task's execution state. Marking a task that
// is already terminal is a no-op, which makes double-completion from a
// racing worker outcome harmless. Returns the IDs of tasks that became
// ready because of this transition, in insertion order.
func (c *Constellation) MarkTaskState(id string, state models.TaskState, result, errMsg string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidEdit, state)
	}
	if task.State.Terminal() {
		return nil, nil
	}
	if task.State == state {
		return nil, nil
	}

	before := c.readyIDsLocked()
	task.State = state
	if state.Terminal() {
		task.Result = result
		task.Error = errMsg
		now := time.Now()
		task.CompletedAt = &now
	}
	after := c.readyIDsLocked()

	wasReady := make(map[string]bool, len(before))
	for _, rid := range before {
		wasReady[rid] = true
	}
	var newly []string
	for _, rid := range after {
		if !wasReady[rid] && rid != id {
			newly = append(newly, rid)
		}
	}
	return newly, nil
}

// Validate checks the full graph for structural problems: cycles and edges
// with dangling endpoints. Returns true with no problems for a valid graph.
func (c *Constellation) Validate() (bool, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for id, edge := range c.edges {
		if _, ok := c.tasks[edge.From]; !ok {
			problems = append(problems, fmt.Sprintf("dependency %s references missing source task %s", id, edge.From))
		}
		if _, ok := c.tasks[edge.To]; !ok {
			problems = append(problems, fmt.Sprintf("dependency %s references missing target task %s", id, edge.To))
		}
	}
	if c.hasCycleLocked() {
		problems = append(problems, "graph contains a circular dependency")
	}
	return len(problems) == 0, problems
}

// SnapshotView returns a deep, immutable copy of the constellation, safe
// to share across components without further locking.
func (c *Constellation) SnapshotView() *models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &models.Snapshot{
		ConstellationID: c.id,
		Tasks:           make([]models.TaskStar, 0, len(c.tasks)),
		Edges:           make([]models.DependencyEdge, 0, len(c.edges)),
		Order:           append([]string{}, c.order...),
		TakenAt:         time.Now(),
	}
	for _, id := range c.order {
		snap.Tasks = append(snap.Tasks, c.tasks[id].Clone())
	}
	for _, id := range c.order {
		for _, edgeID := range c.outgoing[id] {
			snap.Edges = append(snap.Edges, *c.edges[edgeID])
		}
	}
	snap.Status = models.ComputeStatus(snap.Tasks, snap.Edges)
	return snap
}

// Restore replaces the constellation's contents from a snapshot.
func (c *Constellation) Restore(snap *models.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.ConstellationID != "" {
		c.id = snap.ConstellationID
	}
	c.tasks = make(map[string]*models.TaskStar, len(snap.Tasks))
	c.edges = make(map[string]*models.DependencyEdge, len(snap.Edges))
	c.incoming = make(map[string][]string)
	c.outgoing = make(map[string][]string)
	c.order = nil

	for _, t := range snap.Tasks {
		stored := t.Clone()
		c.tasks[t.ID] = &stored
	}
	for _, id := range snap.Order {
		if _, ok := c.tasks[id]; ok {
			c.order = append(c.order, id)
		}
	}
	// Tasks missing from Order still need a deterministic slot.
	inOrder := make(map[string]bool, len(c.order))
	for _, id := range c.order {
		inOrder[id] = true
	}
	for _, t := range snap.Tasks {
		if !inOrder[t.ID] {
			c.order = append(c.order, t.ID)
		}
	}
	for _, e := range snap.Edges {
		stored := e
		c.edges[e.ID] = &stored
		c.incoming[e.To] = append(c.incoming[e.To], e.ID)
		c.outgoing[e.From] = append(c.outgoing[e.From], e.ID)
	}
}

// Dependents returns the IDs of tasks with an edge from the given task.
func (c *Constellation) Dependents(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var dependents []string
	for _, edgeID := range c.outgoing[id] {
		dependents = append(dependents, c.edges[edgeID].To)
	}
	return dependents
}

// Running returns the IDs of tasks currently dispatched, in insertion order.
func (c *Constellation) Running() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var running []string
	for _, id := range c.order {
		if c.tasks[id].State == models.TaskRunning {
			running = append(running, id)
		}
	}
	return running
}

// Status summarizes the whole constellation: active while any task is
// running or dispatchable, otherwise completed or failed. A failure that
// leaves dependents permanently blocked counts as failed, not active.
func (c *Constellation) Status() models.ConstellationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tasks := make([]models.TaskStar, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, *t)
	}
	edges := make([]models.DependencyEdge, 0, len(c.edges))
	for _, e := range c.edges {
		edges = append(edges, *e)
	}
	return models.ComputeStatus(tasks, edges)
}

// removeEdgeLocked removes an edge and its adjacency entries. Caller must
// hold the write lock.
func (c *Constellation) removeEdgeLocked(id string) {
	edge, ok := c.edges[id]
	if !ok {
		return
	}
	c.incoming[edge.To] = removeString(c.incoming[edge.To], id)
	c.outgoing[edge.From] = removeString(c.outgoing[edge.From], id)
	delete(c.edges, id)
}

// reachesLocked reports whether target is reachable from start by walking
// dependency edges from prerequisite to dependent. Caller must hold a lock.
func (c *Constellation) reachesLocked(start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, edgeID := range c.outgoing[id] {
			next := c.edges[edgeID].To
			if next == target {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// hasCycleLocked detects cycles with depth-first coloring.
// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
func (c *Constellation) hasCycleLocked() bool {
	colors := make(map[string]int, len(c.tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, edgeID := range c.outgoing[id] {
			next := c.edges[edgeID].To
			if _, ok := c.tasks[next]; !ok {
				continue
			}
			switch colors[next] {
			case 1:
				return true
			case 0:
				if visit(next) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range c.tasks {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
