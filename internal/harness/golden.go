package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName  string       `json:"scenario_name"`
	TransactionID string       `json:"transaction_id"`
	Outcome       string       `json:"outcome"`
	Trace         []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"kind":    ev.Kind,
			"runtime": ev.Runtime,
		}
		for key, val := range map[string]string{
			"action":         ev.Action,
			"role":           ev.Role,
			"code":           ev.Code,
			"transaction_id": ev.TransactionID,
			"from":           ev.From,
			"to":             ev.To,
			"level":          ev.Level,
			"instance":       ev.Instance,
			"message":        ev.Message,
			"state":          ev.State,
		} {
			if val != "" {
				m[key] = val
			}
		}
		if ev.Seq != 0 {
			m["seq"] = ev.Seq
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name":  s.ScenarioName,
		"transaction_id": s.TransactionID,
		"outcome":        s.Outcome,
		"trace":          traceList,
	}
}

// Snapshot serializes a result's trace as canonical JSON.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName:  scenarioName,
		TransactionID: result.Report.TransactionID,
		Outcome:       string(result.Report.Outcome),
		Trace:         result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
