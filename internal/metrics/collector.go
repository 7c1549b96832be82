// Package metrics provides the Prometheus collector for orchestration
// statistics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates orchestration metrics for Prometheus scraping.
type Collector struct {
	tasksDispatched  prometheus.Counter
	tasksCompleted   prometheus.Counter
	tasksFailed      prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	observerFailures prometheus.Counter
	modsApplied      prometheus.Counter
	modTimeouts      prometheus.Counter
	pendingMods      prometheus.Gauge
	dispatchDuration prometheus.Histogram
	waitDuration     prometheus.Histogram
}

// NewCollector creates a collector registered with reg. A nil registerer
// uses the default Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		tasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to workers",
		}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_tasks_completed_total",
			Help: "Total number of tasks that completed successfully",
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_tasks_failed_total",
			Help: "Total number of tasks that failed",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orrery_events_published_total",
			Help: "Total number of events published, by type",
		}, []string{"type"}),
		observerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_observer_failures_total",
			Help: "Total number of observer handler errors and panics",
		}),
		modsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_modifications_applied_total",
			Help: "Total number of structural edits applied",
		}),
		modTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "orrery_modification_timeouts_total",
			Help: "Total number of pending modifications force-resolved by timeout",
		}),
		pendingMods: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orrery_pending_modifications",
			Help: "Current number of unresolved pending modifications",
		}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orrery_dispatch_duration_seconds",
			Help:    "Task dispatch-to-outcome duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		waitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orrery_modification_wait_duration_seconds",
			Help:    "Time spent waiting for pending modifications per loop iteration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}),
	}
}

// TaskDispatched records a task handed to a worker.
func (c *Collector) TaskDispatched() { c.tasksDispatched.Inc() }

// TaskCompleted records a successful outcome and its duration.
func (c *Collector) TaskCompleted(d time.Duration) {
	c.tasksCompleted.Inc()
	c.dispatchDuration.Observe(d.Seconds())
}

// TaskFailed records a failed outcome and its duration.
func (c *Collector) TaskFailed(d time.Duration) {
	c.tasksFailed.Inc()
	c.dispatchDuration.Observe(d.Seconds())
}

// EventPublished records one published event by type.
func (c *Collector) EventPublished(eventType string) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// ObserverFailure records an isolated observer error or panic.
func (c *Collector) ObserverFailure() { c.observerFailures.Inc() }

// ModificationApplied records one applied structural edit batch.
func (c *Collector) ModificationApplied() { c.modsApplied.Inc() }

// ModificationTimeout records a force-resolved pending record.
func (c *Collector) ModificationTimeout() { c.modTimeouts.Inc() }

// SetPendingModifications updates the pending-record gauge.
func (c *Collector) SetPendingModifications(n int) { c.pendingMods.Set(float64(n)) }

// WaitObserved records one wait-for-modifications duration.
func (c *Collector) WaitObserved(d time.Duration) { c.waitDuration.Observe(d.Seconds()) }
