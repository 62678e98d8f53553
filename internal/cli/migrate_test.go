package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/config"
	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/orchestrator"
)

const planTemplate = `
migration:
  id: mig-1
  source: d1
  target: d2
  modifications:
    - id: mod-1
      type: ADD
      target: d2
      components: [{component: %s, instance: %s}]
peers:
  - {id: d1, url: "%s"}
  - {id: d2, url: "%s"}
`

func executeMigrate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewMigrateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plan.yaml", fmt.Sprintf(planTemplate, "map", "m1", "http://a", "http://b"))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "mig-1", plan.Migration.ID)
	assert.Equal(t, []config.Peer{{ID: "d1", URL: "http://a"}, {ID: "d2", URL: "http://b"}}, plan.Peers)

	urls, err := plan.peerURLs([]string{"d2=http://c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "http://a", "d2": "http://c"}, urls)

	_, err = plan.peerURLs([]string{"d2"})
	assert.ErrorContains(t, err, "expected id=url")
}

func TestLoadPlan_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "migration: {id: m, source: a, target: b}\npeer: []\n", "field peer not found"},
		{"no source", "migration: {id: m, target: b}\n", "source and target are required"},
		{"same runtime", "migration: {id: m, source: a, target: a}\n", "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "plan.yaml", tt.content)
			_, err := LoadPlan(path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMigrate_PlanErrors(t *testing.T) {
	dir := t.TempDir()
	noURL := writeFile(t, dir, "nourl.yaml", "migration:\n  id: mig-1\n  source: d1\n  target: d2\n  modifications:\n    - {id: mod-1, type: ADD, target: d2, components: [{component: map, instance: m1}]}\n")
	noMods := writeFile(t, dir, "nomods.yaml", "migration: {id: mig-1, source: d1, target: d2}\n")

	for _, args := range [][]string{
		{"/nonexistent/plan.yaml"},
		{noURL},
		{noMods, "--peer", "d1=http://a", "--peer", "d2=http://b"},
	} {
		_, err := executeMigrate(t, "text", args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), args)
	}
}

func TestMigrate_CommitsOverHTTP(t *testing.T) {
	d1, url1 := startDaemon(t, runtimeConfig(t, "d1",
		config.Component{Component: "map", Instance: "m1", Properties: map[string]any{"zoom": 11}},
		config.Component{Component: "list", Instance: "l1"},
	))
	d2, url2 := startDaemon(t, runtimeConfig(t, "d2"))
	path := writeFile(t, t.TempDir(), "plan.yaml", fmt.Sprintf(planTemplate, "map", "m1", url1, url2))

	out, err := executeMigrate(t, "text", path)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ Migration mig-1 committed")
	assert.Regexp(t, `d1\s+prepare\s+source\s+ALL_COMPONENTS_READY`, out)
	assert.Regexp(t, `d2\s+prepare\s+target\s+ALL_COMPONENTS_EXECUTABLE`, out)

	_, onSource := d1.rt.Container("m1")
	assert.False(t, onSource)
	m1, ok := d2.rt.Container("m1")
	require.True(t, ok)
	assert.Equal(t, container.StateActive, m1.State())
	zoom, err := m1.Instance().GetProperty("zoom")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(11), zoom)

	txs, err := d1.store.ListTransactions(t.Context())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ir.TxDone, txs[0].State)
}

func TestMigrate_NotMigratableIsAborted(t *testing.T) {
	_, url1 := startDaemon(t, runtimeConfig(t, "d1", config.Component{Component: "list", Instance: "l1"}))
	_, url2 := startDaemon(t, runtimeConfig(t, "d2"))
	path := writeFile(t, t.TempDir(), "plan.yaml", fmt.Sprintf(planTemplate, "list", "l1", url1, url2))

	out, err := executeMigrate(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string              `json:"status"`
		Data   orchestrator.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEqual(t, orchestrator.OutcomeCommitted, resp.Data.Outcome)
	assert.Equal(t, "mig-1", resp.Data.MigrationID)
	require.NotEmpty(t, resp.Data.Steps)
	assert.Equal(t, "d1", resp.Data.Steps[0].Runtime)
}
