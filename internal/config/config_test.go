package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/model"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Version, cfg.Version)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, int64(20), cfg.Sync.ScrollbackPageSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero version", func(c *Config) { c.Version = 0 }},
		{"future version", func(c *Config) { c.Version = Version + 1 }},
		{"storage without path", func(c *Config) { c.Storage.Path = "" }},
		{"zero page size", func(c *Config) { c.Sync.ScrollbackPageSize = 0 }},
		{"negative wait timeout", func(c *Config) { c.Sync.WaitTimeoutSec = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"watch without path", func(c *Config) { c.Manifest.Watch = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
version = 1

[storage]
enabled = false

[sync]
scrollback_page_size = 50
wait_timeout_sec = 5
node_url = "https://node.example.com"

[logging]
level = "debug"
format = "json"
output = "stdout"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, int64(50), cfg.Sync.ScrollbackPageSize)
	assert.Equal(t, "https://node.example.com", cfg.Sync.NodeURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
version: 1
sync:
  scrollback_page_size: 10
  wait_timeout_sec: 30
logging:
  level: warn
  format: text
  output: stderr
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Sync.ScrollbackPageSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.toml"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Sync, cfg.Sync)
}

func TestLoadOrCreateWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, cfg.Validate())

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())
	defer loader.Close()

	update := "version = 1\n\n[logging]\nlevel = \"debug\"\nformat = \"text\"\noutput = \"stderr\"\n"
	require.NoError(t, os.WriteFile(path, []byte(update), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func writeManifest(t *testing.T, path string, ids ...model.StreamID) {
	t.Helper()
	quoted := ""
	for i, id := range ids {
		if i > 0 {
			quoted += ","
		}
		quoted += `"` + string(id) + `"`
	}
	content := `{"version": 1, "highPriorityStreams": [` + quoted + `]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadManifest(t *testing.T) {
	id, err := model.MakeStreamID(model.StreamKindChannel)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifest.json")
	writeManifest(t, path, id)

	m, merr := LoadManifest(path)
	require.NoError(t, merr)
	assert.Equal(t, []model.StreamID{id}, m.HighPriorityStreams)
}

func TestLoadManifestRejectsBadIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	// Fails the schema pattern: not 64 hex chars.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version": 1, "highPriorityStreams": ["nonsense"]}`), 0o600))
	_, err := LoadManifest(path)
	assert.Error(t, err)

	// Well-formed hex but an unknown kind prefix.
	bad := "ff" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddee"
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version": 1, "highPriorityStreams": ["`+bad+`"]}`), 0o600))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version": 1, "highPriorityStreams": [], "extra": true}`), 0o600))
	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestManifestWatcherReload(t *testing.T) {
	first, err := model.MakeStreamID(model.StreamKindChannel)
	require.NoError(t, err)
	second, err := model.MakeStreamID(model.StreamKindDM)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifest.json")
	writeManifest(t, path, first)

	changed := make(chan *Manifest, 1)
	w, err := NewManifestWatcher(path, func(m *Manifest) {
		select {
		case changed <- m:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	writeManifest(t, path, first, second)

	select {
	case m := <-changed:
		assert.Equal(t, []model.StreamID{first, second}, m.HighPriorityStreams)
	case <-time.After(5 * time.Second):
		t.Fatal("manifest change not observed")
	}
	assert.Len(t, w.Manifest().HighPriorityStreams, 2)
}
