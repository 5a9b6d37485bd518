package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/errors"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("LIVEQUERY_HOME", t.TempDir())
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Run("defaults without a file", func(t *testing.T) {
		cmd := NewStandardCommand("livequery", "test")
		cfg, err := LoadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultAddress, cfg.Server.Address)
	})

	t.Run("address flag wins", func(t *testing.T) {
		cmd := NewStandardCommand("livequery", "test")
		require.NoError(t, cmd.ParseFlags([]string{"--address", "ws://db.internal:9000/ws"}))
		cfg, err := LoadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "ws://db.internal:9000/ws", cfg.Server.Address)
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		cmd := NewStandardCommand("livequery", "test")
		require.NoError(t, cmd.ParseFlags([]string{"-a", "http://not-a-websocket"}))
		_, err := LoadConfig(cmd)
		assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
	})

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(dir, "custom.yml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\nchannels:\n  max_open: 8\n"), 0644))
		cmd := NewStandardCommand("livequery", "test")
		require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
		cfg, err := LoadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Channels.MaxOpen)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		cmd := NewStandardCommand("livequery", "test")
		require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(dir, "nope.yml")}))
		_, err := LoadConfig(cmd)
		assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
	})
}
