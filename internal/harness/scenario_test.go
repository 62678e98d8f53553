package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
runtimes:
  - id: d1
  - id: d2
migration:
  id: mig-1
  source: d1
  target: d2
  modifications:
    - id: mod-1
      type: ADD
      target: d2
      components: [{component: map, instance: m1}]
`

func TestLoadScenario_ResolvesSpecPaths(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/move_map.yaml")
	require.NoError(t, err)

	assert.Equal(t, "move_map", s.Name)
	assert.NotEmpty(t, s.Description)
	require.Len(t, s.Specs, 1)
	assert.Equal(t, filepath.Join("testdata", "specs", "components.cue"), filepath.Clean(s.Specs[0]))
	require.Len(t, s.Runtimes, 2)
	assert.Equal(t, int(14), s.Runtimes[0].Components[0].Properties["zoom"])
	assert.Equal(t, "ADD", s.Migration.Modifications[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario+"specs: [a.cue, /abs/b.cue]\n"), 0o644))

	s, err := LoadScenarioWithBasePath(path, "/base")
	require.NoError(t, err)
	assert.Equal(t, []string{"/base/a.cue", "/abs/b.cue"}, s.Specs)
}

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Empty(t, s.Assertions)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		doc     string
		wantErr string
	}{
		{"unknown field", "assertion: []\n", "", "field assertion not found"},
		{"bad deadline", "deadline: soon\n", "", "deadline"},
		{"bad transaction timeout", "transaction_timeout: 1x\n", "", "transaction_timeout"},
		{"unknown assertion", "assertions: [{type: vibes}]\n", "", `unknown assertion type "vibes"`},
		{"outcome without value", "assertions: [{type: outcome}]\n", "", "outcome is required"},
		{"step order without steps", "assertions: [{type: step_order}]\n", "", "steps list is required"},
		{"container state without instance", "assertions: [{type: container_state, runtime: d1, state: ACTIVE}]\n", "", "instance is required"},
		{"property without name", "assertions: [{type: property, runtime: d1, instance: m1}]\n", "", "property are required"},
		{"notification without message", "assertions: [{type: notification, runtime: d1}]\n", "", "message are required"},
		{"invocations without instance", "assertions: [{type: invocations, runtime: d1}]\n", "", "instance are required"},
		{"missing name", "", "runtimes: [{id: d1}]\n", "name is required"},
		{"no runtimes", "", "name: x\n", "at least one runtime"},
		{"duplicate runtime", "", "name: x\nruntimes: [{id: d1}, {id: d1}]\n", "duplicate runtime id"},
		{"bad prepare script", "", "name: x\nruntimes: [{id: d1, scripts: {m1: {prepare: maybe}}}]\n", "unknown prepare script"},
		{"bad event phase", "", "name: x\nruntimes: [{id: d1, events: [{from: l1, channel: geo, when: later}]}]\n", "unknown phase"},
		{"incomplete component", "", "name: x\nruntimes: [{id: d1, components: [{component: map}]}]\n", "component and instance are required"},
		{"missing migration", "", "name: x\nruntimes: [{id: d1}]\n", "migration.id is required"},
		{"undeclared target", "", "name: x\nruntimes: [{id: d1}]\nmigration: {id: m, source: d1, target: d9, modifications: [{id: a}]}\n", "migration.target"},
		{"no modifications", "", "name: x\nruntimes: [{id: d1}, {id: d2}]\nmigration: {id: m, source: d1, target: d2}\n", "modifications must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.doc
			if doc == "" {
				doc = minimalScenario + tt.extra
			}
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
