package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/metrics"
	"github.com/orbitalworks/orrery/internal/observers"
	"github.com/orbitalworks/orrery/internal/planner"
	"github.com/orbitalworks/orrery/internal/state"
	"github.com/orbitalworks/orrery/pkg/models"
)

// OrderingFunc reorders ready task IDs before dispatch. The default keeps
// insertion order; an external scheduling policy can plug in here.
type OrderingFunc func(ids []string, view *models.Snapshot) []string

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	logger              *zap.Logger
	ledger              *state.Ledger
	collector           *metrics.Collector
	maxWorkers          int
	modificationTimeout time.Duration
	waitTimeout         time.Duration
	pollInterval        time.Duration
	queueBufferSize     int
	ordering            OrderingFunc
	planner             planner.Planner
	signalsDir          string
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		maxWorkers:          4,
		modificationTimeout: observers.DefaultModificationTimeout,
		pollInterval:        50 * time.Millisecond,
		queueBufferSize:     64,
	}
}

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithLedger sets the session ledger. A nil ledger disables recording.
func WithLedger(l *state.Ledger) Option {
	return func(o *orchestratorOptions) { o.ledger = l }
}

// WithCollector sets the Prometheus metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(o *orchestratorOptions) { o.collector = c }
}

// WithMaxWorkers bounds how many tasks are dispatched concurrently.
func WithMaxWorkers(n int) Option {
	return func(o *orchestratorOptions) { o.maxWorkers = n }
}

// WithModificationTimeout sets how long a pending modification may stay
// unresolved before the synchronizer force-resolves it.
func WithModificationTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.modificationTimeout = d }
}

// WithWaitTimeout sets the overall budget for waiting on pending
// modifications per loop iteration. Defaults to the modification timeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.waitTimeout = d }
}

// WithPollInterval sets the idle delay between loop iterations when
// nothing is ready or in flight.
func WithPollInterval(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.pollInterval = d }
}

// WithQueueBufferSize sets the progress queue buffer size.
func WithQueueBufferSize(n int) Option {
	return func(o *orchestratorOptions) { o.queueBufferSize = n }
}

// WithOrdering sets the ready-task tie-break policy.
func WithOrdering(fn OrderingFunc) Option {
	return func(o *orchestratorOptions) { o.ordering = fn }
}

// WithPlanner attaches a planner. Without one the orchestrator runs the
// seeded graph as-is and skips modification synchronization entirely.
func WithPlanner(p planner.Planner) Option {
	return func(o *orchestratorOptions) { o.planner = p }
}

// WithSignalsDir enables the filesystem signal watcher on the given
// directory (pause, resume and stop marker files).
func WithSignalsDir(dir string) Option {
	return func(o *orchestratorOptions) { o.signalsDir = dir }
}
