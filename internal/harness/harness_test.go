package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/orchestrator"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		s, err := LoadScenario(file)
		require.NoError(t, err, file)
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Equal(t, "tx-1", result.Report.TransactionID)
		})
	}
}

func TestRun_JournalsBothSides(t *testing.T) {
	result, err := Run(context.Background(), loadScenario(t, "move_map"))
	require.NoError(t, err)

	assert.Equal(t, orchestrator.OutcomeCommitted, result.Report.Outcome)
	// prepare and commit on each side
	assert.Equal(t, int64(4), result.Requests)
	for _, rt := range []string{"d1", "d2"} {
		txs := result.Transactions[rt]
		require.Len(t, txs, 1, rt)
		assert.Equal(t, ir.TxDone, txs[0].State)
		assert.Equal(t, ir.Committed, txs[0].Code)
		assert.Equal(t, "mig-1", txs[0].MigrationID)
		assert.Equal(t, []ir.ComponentItem{{ComponentID: "map", InstanceID: "m1"}}, txs[0].Items)
	}
	assert.Equal(t, ir.RoleSource, result.Transactions["d1"][0].Role)
	assert.Equal(t, ir.RoleTarget, result.Transactions["d2"][0].Role)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	s := loadScenario(t, "move_map")
	s.Assertions = []Assertion{
		{Type: AssertOutcome, Outcome: "aborted"},
		{Type: AssertContainerState, Runtime: "d1", Instance: "m1", State: "ACTIVE"},
		{Type: AssertProperty, Runtime: "d2", Instance: "m1", Property: "zoom", Value: 3},
		{Type: AssertNotification, Runtime: "d1", Level: "error", Message: "committed"},
		{Type: AssertTransactionState, Runtime: "d2", State: "CANCELLED"},
		{Type: AssertProperty, Runtime: "d9", Instance: "m1", Property: "zoom", Value: 3},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "expected aborted, got committed")
	assert.Contains(t, result.Errors[1], "expected ACTIVE, got absent")
	assert.Contains(t, result.Errors[2], "expected 3, got 14")
	assert.Contains(t, result.Errors[3], "no error notification")
	assert.Contains(t, result.Errors[4], "expected CANCELLED, got DONE")
	assert.Contains(t, result.Errors[5], `unknown runtime "d9"`)
}

func TestRun_InlineDescriptors(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: inline
descriptors:
  - id: chart
    migratable: true
    properties:
      - {name: title, type: string, default: "sales"}
runtimes:
  - id: d1
    components: [{component: chart, instance: c1}]
  - id: d2
migration:
  id: mig-1
  source: d1
  target: d2
  modifications:
    - {id: mod-1, type: ADD, target: d2, components: [{component: chart, instance: c1}]}
assertions:
  - {type: outcome, outcome: committed}
  - {type: property, runtime: d2, instance: c1, property: title, value: sales}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{
			name:    "unknown runtime descriptor",
			mutate:  func(s *Scenario) { s.Runtimes[1].Descriptors = []string{"chart"} },
			wantErr: `unknown descriptor "chart"`,
		},
		{
			name: "event from unknown instance",
			mutate: func(s *Scenario) {
				s.Runtimes[0].Events = []EventSpec{{From: "x9", Channel: "geo"}}
			},
			wantErr: "event from x9",
		},
		{
			name:    "invalid modification type",
			mutate:  func(s *Scenario) { s.Migration.Modifications[0].Type = "MOVE" },
			wantErr: "migration",
		},
		{
			name:    "missing spec file",
			mutate:  func(s *Scenario) { s.Specs = []string{"testdata/specs/missing.cue"} },
			wantErr: "loading specs",
		},
		{
			name: "invalid inline descriptor",
			mutate: func(s *Scenario) {
				s.Descriptors = []DescriptorSpec{{ID: "bad", Properties: []PropertySpec{{Name: "ratio", Type: "float"}}}}
			},
			wantErr: "descriptor bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadScenario(t, "move_map")
			tt.mutate(s)
			_, err := Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")

	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_Events(t *testing.T) {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Kind: KindStep, Runtime: "d1"},
		{Kind: KindContainer, Runtime: "d1", Instance: "m1"},
		{Kind: KindStep, Runtime: "d2"},
	}

	steps := r.Events(KindStep)
	require.Len(t, steps, 2)
	assert.Equal(t, "d2", steps[1].Runtime)
	assert.Empty(t, r.Events(KindNotification))
}
