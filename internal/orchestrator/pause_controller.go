package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PauseController manages pause/resume/stop state for the orchestration
// loop. It provides a thread-safe way to control execution flow between
// loop iterations.
type PauseController struct {
	// paused indicates whether dispatching is paused.
	paused bool
	// stopped indicates whether a cooperative stop was requested.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond signals waiters when the loop is unpaused or stopped.
	cond *sync.Cond

	logger *zap.Logger
}

// NewPauseController creates a new PauseController.
func NewPauseController(logger *zap.Logger) *PauseController {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PauseController{logger: logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause pauses the loop. No new tasks will be dispatched; in-flight tasks
// run to completion.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.logger.Info("orchestration paused, no new tasks will be dispatched")
	}
}

// Resume resumes the loop after a pause.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.logger.Info("orchestration resumed")
		p.cond.Broadcast()
	}
}

// Stop requests a cooperative stop. This unblocks any WaitIfPaused calls.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused returns whether the loop is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// IsStopped returns whether a stop was requested.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// ErrStopped is returned by WaitIfPaused after a cooperative stop.
var ErrStopped = fmt.Errorf("orchestration stopped")

// WaitIfPaused blocks until the loop is unpaused or stopped. Returns
// ErrStopped after a stop request and the context error if the context
// ends while waiting.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine to wake the condition on context cancellation.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()
	return nil
}
