package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SignalWatcher maps marker files in a signals directory to the pause
// controller: creating "pause", "resume" or "stop" toggles the matching
// control. Handled files are removed so the next signal of the same kind
// is seen as a fresh create.
type SignalWatcher struct {
	dir     string
	pause   *PauseController
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher creates the signals directory if needed and starts
// watching it.
func NewSignalWatcher(dir string, pause *PauseController, logger *zap.Logger) (*SignalWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch signals directory: %w", err)
	}

	sw := &SignalWatcher{
		dir:     dir,
		pause:   pause,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	// Signals dropped in before the watch started still count.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			sw.handle(entry.Name())
		}
	}

	go sw.watch()
	return sw, nil
}

func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.handle(filepath.Base(event.Name))
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("signal watcher error", zap.Error(err))
		}
	}
}

// handle acts on one marker file by name and removes it.
func (sw *SignalWatcher) handle(name string) {
	switch name {
	case "pause":
		sw.pause.Pause()
	case "resume":
		sw.pause.Resume()
	case "stop":
		sw.pause.Stop()
	default:
		return
	}
	sw.logger.Info("signal handled", zap.String("signal", name))
	if err := os.Remove(filepath.Join(sw.dir, name)); err != nil && !os.IsNotExist(err) {
		sw.logger.Warn("remove signal file failed",
			zap.String("signal", name),
			zap.Error(err))
	}
}

// Close stops the watcher.
func (sw *SignalWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}
