package observers

import (
	"context"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/metrics"
)

// MetricsObserver drives the Prometheus collector from the event stream.
// It subscribes as a wildcard observer and optionally tracks the
// synchronizer's pending-record gauge.
type MetricsObserver struct {
	collector *metrics.Collector
	sync      *ModificationSynchronizer
}

// NewMetricsObserver creates a metrics observer. sync may be nil when no
// planner (and therefore no synchronizer) is attached.
func NewMetricsObserver(collector *metrics.Collector, sync *ModificationSynchronizer) *MetricsObserver {
	return &MetricsObserver{collector: collector, sync: sync}
}

// Name implements events.Observer.
func (m *MetricsObserver) Name() string { return "metrics" }

// OnEvent implements events.Observer.
func (m *MetricsObserver) OnEvent(_ context.Context, ev events.Event) error {
	m.collector.EventPublished(string(ev.Type))
	if ev.Type == events.ConstellationModified {
		m.collector.ModificationApplied()
	}
	if m.sync != nil {
		m.collector.SetPendingModifications(m.sync.PendingCount())
	}
	return nil
}
