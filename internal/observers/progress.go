package observers

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/events"
)

// ProgressQueue buffers task-progress events for the planner. Delivery is
// best-effort: an immediate send is tried first, then a short retry to let
// the consumer drain, then the event is dropped and counted. A slow
// planner must never block the bus.
type ProgressQueue struct {
	queue   chan events.Event
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewProgressQueue creates a progress queue with the given buffer size.
func NewProgressQueue(bufferSize int, logger *zap.Logger) *ProgressQueue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressQueue{
		queue:  make(chan events.Event, bufferSize),
		logger: logger,
	}
}

// Name implements events.Observer.
func (q *ProgressQueue) Name() string { return "progress-queue" }

// OnEvent implements events.Observer.
func (q *ProgressQueue) OnEvent(_ context.Context, ev events.Event) error {
	select {
	case q.queue <- ev:
		return nil
	default:
		// Queue full, retry briefly before dropping.
	}

	select {
	case q.queue <- ev:
		return nil
	case <-time.After(100 * time.Millisecond):
		count := q.dropped.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			q.logger.Warn("progress queue full, dropped event",
				zap.String("event_type", string(ev.Type)),
				zap.Uint64("total_dropped", count))
		}
		return nil
	}
}

// Next blocks until an event is available or the context ends.
func (q *ProgressQueue) Next(ctx context.Context) (events.Event, error) {
	select {
	case ev := <-q.queue:
		return ev, nil
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// DrainBatch returns up to max queued events without blocking.
func (q *ProgressQueue) DrainBatch(max int) []events.Event {
	var batch []events.Event
	for len(batch) < max {
		select {
		case ev := <-q.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// Len returns the number of queued events.
func (q *ProgressQueue) Len() int {
	return len(q.queue)
}

// Dropped returns the total number of dropped events.
func (q *ProgressQueue) Dropped() uint64 {
	return q.dropped.Load()
}
