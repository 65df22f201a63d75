package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Queue.MaxSize)
	assert.Equal(t, 8, cfg.Queue.RetryCeiling)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 7*24*time.Hour, cfg.TombstoneTTL)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	data := []byte("dataDir: /tmp/syncd-test\nqueue:\n  maxSize: 50\nworkers:\n  count: 4\n  maxCount: 4\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/syncd-test", cfg.DataDir)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, 4, cfg.Workers.Count)
	// untouched fields keep defaults
	assert.Equal(t, 8, cfg.Queue.RetryCeiling)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.json")
	data := []byte(`{"fsync":"never","breaker":{"failureThreshold":3,"failureWindow":10000000000,"cooldown":30000000000}}`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "never", cfg.Fsync)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("SYNCD_QUEUE_MAX_SIZE", "25")
	t.Setenv("SYNCD_WORKERS", "16")
	t.Setenv("SYNCD_TOMBSTONE_TTL", "48h")
	t.Setenv("SYNCD_FSYNC", "interval")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, 25, cfg.Queue.MaxSize)
	assert.Equal(t, 16, cfg.Workers.Count)
	assert.Equal(t, 16, cfg.Workers.MaxCount) // bumped to keep validity
	assert.Equal(t, 48*time.Hour, cfg.TombstoneTTL)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	cfg := Default()
	cfg.Fsync = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Queue.EvictFraction = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers.MaxCount = 1
	assert.Error(t, cfg.Validate())
}
