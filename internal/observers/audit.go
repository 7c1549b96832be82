package observers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orbitalworks/orrery/internal/events"
)

// defaultAuditMaxBytes is the rotation threshold for the audit log.
const defaultAuditMaxBytes = 10 * 1024 * 1024

// auditRecord is one JSONL line in the audit log.
type auditRecord struct {
	Sequence     uint64    `json:"sequence"`
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	TaskID       string    `json:"task_id,omitempty"`
	State        string    `json:"state,omitempty"`
	TriggerTasks []string  `json:"trigger_tasks,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuditTrail appends every observed event to a JSONL file, rotating the
// file once it exceeds maxBytes. The previous file is kept with a .1
// suffix.
type AuditTrail struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	maxBytes int64
}

// NewAuditTrail opens (or creates) the audit log at path.
func NewAuditTrail(path string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &AuditTrail{
		path:     path,
		file:     file,
		size:     info.Size(),
		maxBytes: defaultAuditMaxBytes,
	}, nil
}

// Name implements events.Observer.
func (a *AuditTrail) Name() string { return "audit-trail" }

// OnEvent implements events.Observer.
func (a *AuditTrail) OnEvent(_ context.Context, ev events.Event) error {
	rec := auditRecord{
		Sequence:  ev.Sequence,
		Type:      string(ev.Type),
		Source:    ev.Source,
		Timestamp: ev.Timestamp,
	}
	if ev.Task != nil {
		rec.TaskID = ev.Task.TaskID
		rec.State = string(ev.Task.State)
	}
	if ev.Constellation != nil {
		rec.TriggerTasks = ev.Constellation.TriggerTasks
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size+int64(len(line)) > a.maxBytes {
		if err := a.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := a.file.Write(line)
	a.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// rotateLocked moves the current file aside and starts a fresh one.
// Caller must hold the lock.
func (a *AuditTrail) rotateLocked() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}
	if err := os.Rename(a.path, a.path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen audit log: %w", err)
	}
	a.file = file
	a.size = 0
	return nil
}

// Close flushes and closes the audit log.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
