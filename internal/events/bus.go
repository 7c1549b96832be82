package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Bus routes events to subscribed observers. One bus instance is created
// per orchestrator process and passed explicitly to every component that
// publishes or subscribes; there is no package-level instance.
type Bus struct {
	mu sync.RWMutex
	// byType maps an event type to the observers subscribed to it.
	byType map[Type]map[Observer]struct{}
	// wildcard holds observers subscribed to every event type.
	wildcard map[Observer]struct{}

	seq      atomic.Uint64
	failures atomic.Uint64
	logger   *zap.Logger
}

// NewBus creates an event bus. A nil logger is replaced with a no-op one.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byType:   make(map[Type]map[Observer]struct{}),
		wildcard: make(map[Observer]struct{}),
		logger:   logger,
	}
}

// Subscribe registers an observer for the given event types, or for every
// type when none are given. Re-subscribing an observer adds to its existing
// type set instead of replacing it; a wildcard subscription absorbs any
// per-type entries.
func (b *Bus) Subscribe(obs Observer, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(types) == 0 {
		b.wildcard[obs] = struct{}{}
		for _, set := range b.byType {
			delete(set, obs)
		}
		return
	}
	if _, ok := b.wildcard[obs]; ok {
		return
	}
	for _, t := range types {
		set, ok := b.byType[t]
		if !ok {
			set = make(map[Observer]struct{})
			b.byType[t] = set
		}
		set[obs] = struct{}{}
	}
}

// Unsubscribe removes an observer from every type and from the wildcard
// set. Unsubscribing an unknown observer is a no-op.
func (b *Bus) Unsubscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.wildcard, obs)
	for _, set := range b.byType {
		delete(set, obs)
	}
}

// Publish stamps the event and fans it out to the union of type-specific
// and wildcard subscribers, each on its own goroutine. A handler error or
// panic is logged and counted but never reaches the publisher or any other
// observer. Publish returns once every handler has returned, so successive
// publishes from one goroutine are observed in order.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	ev.Sequence = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	recipients := make([]Observer, 0, len(b.wildcard)+len(b.byType[ev.Type]))
	for obs := range b.wildcard {
		recipients = append(recipients, obs)
	}
	for obs := range b.byType[ev.Type] {
		recipients = append(recipients, obs)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, obs := range recipients {
		wg.Add(1)
		go func(obs Observer) {
			defer wg.Done()
			b.notify(ctx, obs, ev)
		}(obs)
	}
	wg.Wait()
}

// notify delivers one event to one observer, isolating failures.
func (b *Bus) notify(ctx context.Context, obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logger.Warn("observer panicked",
				zap.String("observer", obs.Name()),
				zap.String("event_type", string(ev.Type)),
				zap.Uint64("sequence", ev.Sequence),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := obs.OnEvent(ctx, ev); err != nil {
		b.failures.Add(1)
		b.logger.Warn("observer failed",
			zap.String("observer", obs.Name()),
			zap.String("event_type", string(ev.Type)),
			zap.Uint64("sequence", ev.Sequence),
			zap.Error(err))
	}
}

// FailureCount returns the total number of observer errors and panics.
func (b *Bus) FailureCount() uint64 {
	return b.failures.Load()
}

// SubscriberCount returns how many observers would receive an event of the
// given type.
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.wildcard) + len(b.byType[t])
}
