package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points XDG config at a temp directory and runs the test from an
// empty working directory, so no real user or project config leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { os.Chdir(wd) })
	return work
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.ModificationTimeoutSeconds)
	assert.Equal(t, 0, cfg.WaitTimeoutSeconds)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 50, cfg.PollIntervalMS)
	assert.Equal(t, 64, cfg.QueueBufferSize)
	assert.Empty(t, cfg.LedgerPath)
	assert.Empty(t, cfg.MetricsListen)
	assert.Equal(t, ".orrery/signals", cfg.SignalsDir)
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := &Config{
		ModificationTimeoutSeconds: 30,
		WaitTimeoutSeconds:         5,
		PollIntervalMS:             100,
	}
	assert.Equal(t, 30*time.Second, cfg.ModificationTimeout())
	assert.Equal(t, 5*time.Second, cfg.WaitTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval())

	// A zero wait timeout defers to the modification timeout downstream.
	cfg.WaitTimeoutSeconds = 0
	assert.Equal(t, time.Duration(0), cfg.WaitTimeout())
}

func TestLoad_UserConfig(t *testing.T) {
	isolate(t)

	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "orrery")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("max_workers: 8\nledger_path: /tmp/user.db\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, "/tmp/user.db", cfg.LedgerPath)
	assert.Equal(t, 600, cfg.ModificationTimeoutSeconds, "unset keys keep defaults")
}

func TestLoad_ProjectConfigOverridesUser(t *testing.T) {
	work := isolate(t)

	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "orrery")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("max_workers: 8\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(work, ".orrery.yaml"),
		[]byte("max_workers: 2\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxWorkers)
}

func TestLoad_ProjectConfigFoundInParent(t *testing.T) {
	work := isolate(t)

	require.NoError(t, os.WriteFile(filepath.Join(work, ".orrery.yaml"),
		[]byte("queue_buffer_size: 128\n"), 0o644))
	nested := filepath.Join(work, "sub", "dir")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.Chdir(nested))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.QueueBufferSize)
	assert.Equal(t, filepath.Join(work, ".orrery.yaml"), GetProjectConfigPath())
}

func TestLoad_EnvOverridesEverything(t *testing.T) {
	work := isolate(t)

	require.NoError(t, os.WriteFile(filepath.Join(work, ".orrery.yaml"),
		[]byte("max_workers: 2\n"), 0o644))
	t.Setenv("ORRERY_MAX_WORKERS", "16")
	t.Setenv("ORRERY_METRICS_LISTEN", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, ":9090", cfg.MetricsListen)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("modification_timeout_seconds: 42\n"), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.ModificationTimeoutSeconds)
	assert.Equal(t, 4, cfg.MaxWorkers, "defaults still apply")

	_, err = LoadFromPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.MaxWorkers = 12
	cfg.AuditLogPath = "/tmp/audit.jsonl"

	require.NoError(t, Save(cfg))
	assert.FileExists(t, GetUserConfigPath())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.MaxWorkers)
	assert.Equal(t, "/tmp/audit.jsonl", loaded.AuditLogPath)
}
