package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultLogFlushInterval, cfg.LogFlushInterval)
	assert.Equal(t, "appium", cfg.Server.ServerPath)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wheelhouse.yaml")
	content := []byte(`
listen: "0.0.0.0:9000"
log_level: debug
server:
  port: 4899
  session_override: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultLogFlushInterval, cfg.LogFlushInterval)
	assert.Equal(t, 4899, cfg.Server.Port)
	assert.True(t, cfg.Server.SessionOverride)
	// Untouched defaults survive the merge.
	assert.Equal(t, "appium", cfg.Server.ServerPath)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wheelhouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
