package observers

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/pkg/models"
)

func TestAuditTrail_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewAuditTrail(path)
	require.NoError(t, err)
	defer audit.Close()

	ctx := context.Background()
	require.NoError(t, audit.OnEvent(ctx, events.Event{
		Type:     events.TaskCompleted,
		Source:   "orchestrator",
		Sequence: 7,
		Task:     &events.TaskEventData{TaskID: "a", State: models.TaskCompleted},
	}))
	require.NoError(t, audit.OnEvent(ctx, events.Event{
		Type:          events.ConstellationModified,
		Sequence:      8,
		Constellation: &events.ConstellationEventData{TriggerTasks: []string{"a"}},
	}))
	require.NoError(t, audit.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	assert.Equal(t, "TASK_COMPLETED", records[0]["type"])
	assert.Equal(t, "a", records[0]["task_id"])
	assert.EqualValues(t, 7, records[0]["sequence"])
	assert.Equal(t, []any{"a"}, records[1]["trigger_tasks"])
}

func TestAuditTrail_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		audit, err := NewAuditTrail(path)
		require.NoError(t, err)
		require.NoError(t, audit.OnEvent(ctx, events.Event{Type: events.TaskStarted}))
		require.NoError(t, audit.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func TestAuditTrail_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewAuditTrail(path)
	require.NoError(t, err)
	defer audit.Close()
	audit.maxBytes = 256

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, audit.OnEvent(ctx, events.Event{
			Type: events.TaskCompleted,
			Task: &events.TaskEventData{TaskID: "task-with-a-reasonably-long-identifier"},
		}))
	}

	rotated, err := os.Stat(path + ".1")
	require.NoError(t, err, "rotated file should exist")
	assert.Greater(t, rotated.Size(), int64(0))

	current, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, current.Size(), int64(256))
}

func TestAuditTrail_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.jsonl")
	audit, err := NewAuditTrail(path)
	require.NoError(t, err)
	require.NoError(t, audit.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
