package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPauseController_InitialState(t *testing.T) {
	p := NewPauseController(nil)

	if p.IsPaused() {
		t.Error("new controller should not be paused")
	}
	if p.IsStopped() {
		t.Error("new controller should not be stopped")
	}
	if err := p.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("WaitIfPaused on idle controller: %v", err)
	}
}

func TestPauseController_PauseBlocksUntilResume(t *testing.T) {
	p := NewPauseController(nil)
	p.Pause()

	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(context.Background())
	}()

	select {
	case err := <-released:
		t.Fatalf("WaitIfPaused returned %v while paused", err)
	case <-time.After(30 * time.Millisecond):
	}

	p.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("WaitIfPaused after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
}

func TestPauseController_StopUnblocksWaiters(t *testing.T) {
	p := NewPauseController(nil)
	p.Pause()

	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	p.Stop()

	select {
	case err := <-released:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("WaitIfPaused after stop = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after stop")
	}
}

func TestPauseController_StopWithoutPause(t *testing.T) {
	p := NewPauseController(nil)
	p.Stop()

	if err := p.WaitIfPaused(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("WaitIfPaused = %v, want ErrStopped", err)
	}
	if !p.IsStopped() {
		t.Error("IsStopped should report true after Stop")
	}
}

func TestPauseController_ContextCancelWhilePaused(t *testing.T) {
	p := NewPauseController(nil)
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-released:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WaitIfPaused after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after context cancel")
	}
}

func TestPauseController_RepeatedCallsAreIdempotent(t *testing.T) {
	p := NewPauseController(nil)

	p.Pause()
	p.Pause()
	if !p.IsPaused() {
		t.Error("controller should be paused")
	}

	p.Resume()
	p.Resume()
	if p.IsPaused() {
		t.Error("controller should be resumed")
	}

	p.Stop()
	p.Stop()
	if !p.IsStopped() {
		t.Error("controller should be stopped")
	}
}
