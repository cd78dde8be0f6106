package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	orchestration "github.com/koscakluka/ema-demo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTimingsMatchOrchestration(t *testing.T) {
	assert.Equal(t, orchestration.DefaultTimings(), DefaultTimings().Orchestration())
}

func TestTimingsCopyEveryField(t *testing.T) {
	tuned := orchestration.DefaultTimings()
	tuned.SilenceThreshold = 900 * time.Millisecond
	tuned.MaxCycles = 7
	tuned.WordsPerSecond = 3.5

	timings := FromOrchestration(tuned)
	assert.Equal(t, 900*time.Millisecond, timings.SilenceThreshold)
	assert.Equal(t, 7, timings.MaxCycles)
	assert.Equal(t, tuned, timings.Orchestration())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
demo:
  url: https://demo.example.com
planner:
  provider: groq
timings:
  silence_threshold: 2s
  max_cycles: 30
`), 0o644))
	t.Setenv("EMA_TIMINGS_MAX_CYCLES", "5")
	t.Setenv("EMA_DEMO_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://demo.example.com", cfg.Demo.URL)
	assert.Equal(t, "groq", cfg.Planner.Provider)
	assert.Equal(t, 2*time.Second, cfg.Timings.SilenceThreshold)
	assert.Equal(t, 5, cfg.Timings.MaxCycles, "environment wins over the file")
	assert.Equal(t, "hunter2", cfg.Demo.Password)
	assert.Equal(t, DefaultTimings().PlannerTimeout, cfg.Timings.PlannerTimeout)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("missing.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Planner.Provider = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.Speech.AudioBackend = "gramophone"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestWriteDefaultsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("EMA_DEMO_PASSWORD", "hunter2")
	path := filepath.Join(dir, FileName)

	require.NoError(t, WriteDefaults(path, false))
	assert.Error(t, WriteDefaults(path, false), "existing file is kept")

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "silence_threshold: 1.4s")
	assert.NotContains(t, string(written), "hunter2")
	assert.NotContains(t, string(written), "password")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimings(), cfg.Timings)
}
