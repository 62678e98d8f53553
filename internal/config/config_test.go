package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOMLDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, "runtime.toml", `
runtime_id = "d1"
listen = "127.0.0.1:9000"
descriptors = ["components"]
transaction_timeout = "5s"

[[channels]]
name = "geo"
operation = "moveTo"

[[peers]]
id = "d2"
url = "http://127.0.0.1:9001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "d1", cfg.RuntimeID)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.TransactionTimeout)
	assert.Equal(t, DefaultIntegrationTimeout, cfg.IntegrationTimeout, "unset keys keep defaults")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []Channel{{Name: "geo", Operation: "moveTo"}}, cfg.Channels)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "components"), cfg.Descriptors[0])
	assert.Equal(t, filepath.Join(filepath.Dir(path), DefaultDBPath), cfg.DBPath)

	peer, ok := cfg.Peer("d2")
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9001", peer.URL)
	_, ok = cfg.Peer("d9")
	assert.False(t, ok)
}

func TestLoadYAMLDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, "runtime.yaml", `
runtime_id: d2
db: ":memory:"
log_level: debug
init_timeout: 250ms
channels:
  - name: geo
peers:
  - id: d1
    url: http://127.0.0.1:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "d2", cfg.RuntimeID)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.InitTimeout)
	assert.Equal(t, DefaultPrepareTimeout, cfg.PrepareTimeout)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, []Peer{{ID: "d1", URL: "http://127.0.0.1:9000"}}, cfg.Peers)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "runtime.yml", "runtime_id: d1\nlisten_addr: x\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen_addr")
	})
	t.Run("toml", func(t *testing.T) {
		_, err := Load(writeFile(t, "runtime.toml", "runtime_id = \"d1\"\nlisten_addr = \"x\"\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen_addr")
	})
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		msg     string
	}{
		{"missing runtime id", "a.toml", `listen = "x"`, "runtime_id is required"},
		{"bad duration", "b.toml", "runtime_id = \"d1\"\ninit_timeout = \"soon\"", "init_timeout"},
		{"negative duration", "c.yaml", "runtime_id: d1\nprepare_timeout: -1s", "prepare_timeout must be positive"},
		{"bad log level", "d.yaml", "runtime_id: d1\nlog_level: loud", "log_level"},
		{"peer without url", "e.yaml", "runtime_id: d1\npeers:\n  - id: d2", "id and url are required"},
		{"duplicate peer", "f.yaml", "runtime_id: d1\npeers:\n  - {id: d2, url: a}\n  - {id: d2, url: b}", "duplicate peer id"},
		{"self peer", "g.yaml", "runtime_id: d1\npeers:\n  - {id: d1, url: a}", "is this runtime"},
		{"unnamed channel", "h.yaml", "runtime_id: d1\nchannels:\n  - operation: x", "name is required"},
		{"component without instance", "i.yaml", "runtime_id: d1\ncomponents:\n  - component: map", "component and instance are required"},
		{"duplicate instance", "j.yaml", "runtime_id: d1\ncomponents:\n  - {component: map, instance: m1}\n  - {component: list, instance: m1}", "duplicate instance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadComponents(t *testing.T) {
	toml := writeFile(t, "runtime.toml", `
runtime_id = "d1"

[[components]]
component = "map"
instance = "m1"
properties = { zoom = 14 }
`)
	yml := writeFile(t, "runtime.yaml", `
runtime_id: d1
components:
  - component: map
    instance: m1
    properties: {zoom: 14}
`)

	fromTOML, err := Load(toml)
	require.NoError(t, err)
	fromYAML, err := Load(yml)
	require.NoError(t, err)

	require.Len(t, fromTOML.Components, 1)
	require.Len(t, fromYAML.Components, 1)
	assert.Equal(t, "m1", fromTOML.Components[0].Instance)
	assert.EqualValues(t, 14, fromTOML.Components[0].Properties["zoom"])
	assert.EqualValues(t, 14, fromYAML.Components[0].Properties["zoom"])
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(writeFile(t, "runtime.json", `{}`))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultNeedsRuntimeID(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.RuntimeID = "d1"
	assert.NoError(t, cfg.Validate())
}
