package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "anthropic", cfg.Worker.Provider)
	assert.Equal(t, 2.0, cfg.Session.RatePerSecond)
	assert.Equal(t, 5, cfg.Session.RateBurst)
	assert.Equal(t, 100, cfg.Queue.MaxLength)
	assert.Equal(t, 2, cfg.Queue.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 3, cfg.Queue.DefaultRetries)
	assert.Equal(t, time.Minute, cfg.Schedule.TickInterval)
	assert.Empty(t, cfg.Snapshot.Dir)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  json: true
worker:
  provider: openai
  model: gpt-4o-mini
queue:
  max_length: 10
  max_concurrent: 4
snapshot:
  dir: /var/lib/taskmesh
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "openai", cfg.Worker.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Worker.Model)
	assert.Equal(t, 10, cfg.Queue.MaxLength)
	assert.Equal(t, 4, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "/var/lib/taskmesh", cfg.Snapshot.Dir)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Queue.DefaultRetries)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TASKMESH_WORKER_PROVIDER", "openai")
	t.Setenv("TASKMESH_QUEUE_MAX_CONCURRENT", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Worker.Provider)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrent)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ValidationRejectsBadProvider(t *testing.T) {
	t.Setenv("TASKMESH_WORKER_PROVIDER", "carrier-pigeon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.provider")
}
