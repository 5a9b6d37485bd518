package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/livequery/errors"
)

// isolate points the global config directory at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("LIVEQUERY_HOME", home)
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestExtensions verifies that custom sections in livequery.yml are properly loaded
func TestExtensions(t *testing.T) {
	yamlContent := []byte(`
version: "1.0"
server:
  address: ws://db.internal:9000/ws

logging:
  level: debug
  file:
    enabled: true

monitoring:
  enabled: true
  interval: 30
`)

	cfg, err := LoadFromBytes(yamlContent)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Extensions == nil {
		t.Fatal("Extensions map should not be nil")
	}
	if _, ok := cfg.Extensions["logging"]; !ok {
		t.Fatal("Expected 'logging' extension to be present")
	}

	type MonitoringConfig struct {
		Enabled  bool `yaml:"enabled"`
		Interval int  `yaml:"interval"`
	}

	var monCfg MonitoringConfig
	if err := cfg.UnmarshalExtension("monitoring", &monCfg); err != nil {
		t.Fatalf("Failed to unmarshal monitoring extension: %v", err)
	}
	if !monCfg.Enabled {
		t.Error("Expected monitoring to be enabled")
	}
	if monCfg.Interval != 30 {
		t.Errorf("Expected interval to be 30, got %d", monCfg.Interval)
	}

	var missing MonitoringConfig
	if err := cfg.UnmarshalExtension("absent", &missing); err != nil {
		t.Errorf("Missing extension should not be an error: %v", err)
	}
}

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`server:
  ping_interval: 15s
  pong_wait: 45s
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultVersion, cfg.Version)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.PingInterval.Std())
	assert.Equal(t, 45*time.Second, cfg.Server.PongWait.Std())
	assert.Equal(t, DefaultDialTimeout, cfg.Server.DialTimeout.Std())
	assert.Equal(t, int64(DefaultReadLimit), cfg.Server.ReadLimit)
	assert.Equal(t, DefaultMaxChannels, cfg.Channels.MaxOpen)
	assert.Equal(t, "id", cfg.Tree.PrimaryKey)
	assert.Equal(t, "upsert", cfg.Tree.TableUpdate)
}

func TestLoadFromBytesEmpty(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromBytesRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"schema: unknown key":       "server:\n  host: localhost\n",
		"schema: bad policy":        "tree:\n  table_update: merge\n",
		"decode: bad duration":      "server:\n  dial_timeout: soon\n",
		"semantic: http scheme":     "server:\n  address: http://localhost:9000\n",
		"semantic: pong needs ping": "server:\n  pong_wait: 10s\n",
		"semantic: pong too short":  "server:\n  ping_interval: 30s\n  pong_wait: 10s\n",
		"yaml syntax":               "server: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid), "got %v", err)
		})
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("LQ_TEST_HOST", "example.com")
	cfg, err := LoadFromBytes([]byte(`server:
  address: ws://${LQ_TEST_HOST}:${LQ_TEST_PORT:-9100}/ws
`))
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com:9100/ws", cfg.Server.Address)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := LoadTOMLFromBytes([]byte(`
version = "1.0"

[server]
address = "wss://db.example.com/ws"
dial_timeout = "3s"
read_limit = 4096

[tree]
table_update = "append"

[logging]
level = "warn"
`))
	require.NoError(t, err)
	assert.Equal(t, "wss://db.example.com/ws", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Server.DialTimeout.Std())
	assert.Equal(t, int64(4096), cfg.Server.ReadLimit)
	assert.Equal(t, "append", cfg.Tree.TableUpdate)

	var logCfg struct {
		Level string `yaml:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "warn", logCfg.Level)
}

func TestFindConfigFile(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	_, err := FindConfigFile(nested)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))

	writeFile(t, filepath.Join(root, "livequery.toml"), "version = \"1.0\"\n")
	path, err := FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "livequery.toml"), path)

	writeFile(t, filepath.Join(root, "a", "livequery.yml"), "version: \"1.0\"\n")
	path, err = FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "livequery.yml"), path)
}

func TestLoadFromHierarchy(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "config", "livequery.yml"), `
server:
  address: ws://global:9000/ws
  dial_timeout: 2s
logging:
  level: info
  report_caller: true
`)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, "livequery.yml"), `
server:
  address: ws://project:9000/ws
channels:
  max_open: 8
`)
	writeFile(t, filepath.Join(project, "livequery.override.yml"), `
tree:
  table_update: append
logging:
  level: debug
`)

	cfg, err := LoadFrom(project)
	require.NoError(t, err)

	assert.Equal(t, "ws://project:9000/ws", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Server.DialTimeout.Std())
	assert.Equal(t, 8, cfg.Channels.MaxOpen)
	assert.Equal(t, "append", cfg.Tree.TableUpdate)

	var logCfg struct {
		Level        string `yaml:"level"`
		ReportCaller bool   `yaml:"report_caller"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
	assert.True(t, logCfg.ReportCaller, "override keeps sibling keys of a section")

	layered, err := LoadLayered(project)
	require.NoError(t, err)
	assert.NotNil(t, layered.Global)
	assert.Len(t, layered.Overrides, 1)
	assert.Equal(t, filepath.Join(project, "livequery.yml"), layered.FilePaths[SourceProject])
	assert.Equal(t, cfg, layered.Final)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}
