package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseConfigDefaults(t *testing.T) {
	cfg := NewBaseConfig("cardflow")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cardflow", cfg.Name)
	assert.Equal(t, "https://api.trello.com/1", cfg.API.BaseURL)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, 200, cfg.Performance.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.InvocationBudget)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestValidateFillsZeroValues(t *testing.T) {
	cfg := &BaseConfig{Name: "x"}
	require.NoError(t, cfg.Validate())

	assert.NotEmpty(t, cfg.API.BaseURL)
	assert.Positive(t, cfg.API.PageSize)
	assert.Positive(t, cfg.Performance.BatchSize)
	assert.Positive(t, cfg.Timeouts.Request)
	assert.Positive(t, cfg.Timeouts.InvocationBudget)
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := NewBaseConfig("x")
	cfg.API.PageSize = 25
	cfg.Performance.BatchSize = 50
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.API.PageSize)
	assert.Equal(t, 50, cfg.Performance.BatchSize)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: cardflow-test
api:
  base_url: http://localhost:9999/1
  page_size: 10
performance:
  batch_size: 42
observability:
  log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cardflow-test", cfg.Name)
	assert.Equal(t, "http://localhost:9999/1", cfg.API.BaseURL)
	assert.Equal(t, 10, cfg.API.PageSize)
	assert.Equal(t, 42, cfg.Performance.BatchSize)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	// Untouched sections still get defaults.
	assert.Positive(t, cfg.Timeouts.Request)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
