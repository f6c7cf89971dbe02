package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.window)
	assert.False(t, cfg.Verbose)
	assert.NotEmpty(t, cfg.Socket)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "debounce_window: 750ms\nverbose: true\nsocket: /tmp/nanny-test.sock\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.window)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "/tmp/nanny-test.sock", cfg.Socket)
}

func TestLoadConfigRejectsBadWindow(t *testing.T) {
	for _, window := range []string{"soon", "-1s", "0s"} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("debounce_window: "+window+"\n"), 0o644))

		_, err := loadConfig(path)
		assert.Error(t, err, "window %q should be rejected", window)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debounce_window: [\n"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
