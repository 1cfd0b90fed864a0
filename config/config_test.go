package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxIterations)
	assert.Equal(t, 24*60*60, cfg.EditorTimeoutSeconds)
}

func TestLoadWithMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxIterations)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 5\ntracker_token: file-token\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, "file-token", cfg.TrackerToken)
	assert.Equal(t, 30, cfg.TrackerTimeoutSeconds, "unset fields keep their default")
}

func TestEnvOverridesTakePriorityOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker_token: file-token\n"), 0o644))

	t.Setenv("GOVERNANCE_TRACKER_TOKEN", "env-token")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.TrackerToken)
}

func TestEnvDebugFlagIsToleranceParsed(t *testing.T) {
	t.Setenv("GOVERNANCE_DEBUG", "yes")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.EnableDebugLogging)
}

func TestIsValidRejectsNonPositiveMaxIterations(t *testing.T) {
	cfg := Defaults()
	cfg.MaxIterations = 0
	assert.Error(t, cfg.IsValid())
}

func TestIsValidRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := Defaults()
	cfg.LLMTimeoutSeconds = 0
	assert.Error(t, cfg.IsValid())
}

func TestTimeoutHelpersConvertToDuration(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 24*60*60, int(cfg.EditorTimeout().Seconds()))
	assert.Equal(t, 5*60, int(cfg.LLMTimeout().Seconds()))
	assert.Equal(t, 30, int(cfg.TrackerTimeout().Seconds()))
}

func TestStoreGetReturnsClone(t *testing.T) {
	s := NewStore(Defaults())
	got := s.Get()
	got.MaxIterations = 999
	assert.Equal(t, 20, s.Get().MaxIterations, "mutating the returned clone must not affect the store")
}

func TestStoreSetPanicsOnIdenticalReassignment(t *testing.T) {
	cfg := Defaults()
	s := NewStore(cfg)
	assert.Panics(t, func() { s.Set(cfg) })
}
