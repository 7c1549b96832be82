// Package promise provides a single-assignment completion handle. One code
// path resolves the handle while another awaits it; an independent timeout
// watcher can force-assign it, and the first resolver always wins.
package promise

import (
	"context"
	"sync"
	"time"
)

// Resolution is the value a promise settles to.
type Resolution struct {
	// Forced is true when the promise was resolved by a timeout or
	// shutdown rather than by the event it was waiting for.
	Forced bool
	// Reason describes what resolved the promise.
	Reason string
	// At is when the promise was resolved.
	At time.Time
}

// Promise is a single-assignment result slot with a blocking read.
// All methods are safe for concurrent use.
type Promise struct {
	once sync.Once
	done chan struct{}

	mu  sync.RWMutex
	val Resolution
}

// New creates an unresolved promise.
func New() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve assigns the promise's value. Only the first call assigns;
// Resolve reports whether this call was the one that did.
func (p *Promise) Resolve(r Resolution) bool {
	assigned := false
	p.once.Do(func() {
		if r.At.IsZero() {
			r.At = time.Now()
		}
		p.mu.Lock()
		p.val = r
		p.mu.Unlock()
		close(p.done)
		assigned = true
	})
	return assigned
}

// Done returns a channel closed when the promise resolves.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the promise resolves or the context ends.
func (p *Promise) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-p.done:
		return p.Value(), nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Resolved reports whether the promise has been assigned.
func (p *Promise) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Value returns the resolution. The zero value is returned while the
// promise is still unresolved.
func (p *Promise) Value() Resolution {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.val
}
