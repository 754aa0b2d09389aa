package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the XDG config dir at a temp dir and returns the
// directory the manager will read from.
func isolate(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir := filepath.Join(base, "tether")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 128, cfg.Dispatch.QueueSize)
	assert.Equal(t, "async", cfg.Schemes["app"].Policy)
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
[logging]
level = "debug"
format = "json"

[dispatch]
queue_size = 64

[schemes.assets]
policy = "sync"
`)

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 64, cfg.Dispatch.QueueSize)
	assert.Equal(t, "sync", cfg.Schemes["assets"].Policy)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
[logging]
level = "warn"
`)
	t.Setenv("TETHER_LOG_LEVEL", "trace")

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.Load())

	assert.Equal(t, "trace", m.Get().Logging.Level)
}

func TestLoad_RejectsInvalidLevel(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
[logging]
level = "verbose"
`)

	m, err := NewManager()
	require.NoError(t, err)

	err = m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_RejectsInvalidQueueSize(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
[dispatch]
queue_size = -1
`)

	m, err := NewManager()
	require.NoError(t, err)

	err = m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_size")
}

func TestLoad_RejectsInvalidPolicy(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
[schemes.app]
policy = "eventually"
`)

	m, err := NewManager()
	require.NoError(t, err)

	err = m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, validateConfig(cfg))

	cfg.Logging.Format = "xml"
	assert.Error(t, validateConfig(cfg))
}

func TestSchemaJSON(t *testing.T) {
	data, err := SchemaJSON()
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "Tether Configuration")
	assert.Contains(t, s, "logging")
	assert.Contains(t, s, "dispatch")
	assert.Contains(t, s, "schemes")
}

func TestGenerateSchemaFile(t *testing.T) {
	dir := isolate(t)

	require.NoError(t, GenerateSchemaFile())

	data, err := os.ReadFile(filepath.Join(dir, "config.schema.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "config.schema.json")
}
