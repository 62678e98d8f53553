package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// AssertionError describes a failed assertion with context.
type AssertionError struct {
	Type     string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: expected %v, got %v", e.Type, e.Expected, e.Actual)
}

// evaluate checks every assertion against the result and the live
// runtimes. All assertions are evaluated; failures are added to the
// result.
func (w *world) evaluate(assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := w.evaluateAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
}

func (w *world) evaluateAssertion(a Assertion, result *Result) error {
	switch a.Type {
	case AssertOutcome:
		return assertOutcome(result, a.Outcome)
	case AssertStepOrder:
		return assertStepOrder(result, a.Steps)
	case AssertTransactionState:
		return assertTransactionState(result, a.Runtime, a.State)
	case AssertNotification:
		return assertNotification(result, a.Runtime, a.Level, a.Message)
	case AssertContainerState:
		return assertContainerState(result, a.Runtime, a.Instance, a.State)
	}

	rh, ok := w.runtimes[a.Runtime]
	if !ok {
		return fmt.Errorf("unknown runtime %q", a.Runtime)
	}
	switch a.Type {
	case AssertProperty:
		return rh.assertProperty(a.Instance, a.Property, a.Value)
	case AssertInvocations:
		return rh.assertInvocations(a.Instance, a.Operations)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertOutcome compares the report outcome.
func assertOutcome(result *Result, want string) error {
	if got := string(result.Report.Outcome); got != want {
		return &AssertionError{Type: AssertOutcome, Expected: want, Actual: got}
	}
	return nil
}

// assertStepOrder compares the protocol steps, each written as
// "runtime:action:CODE".
func assertStepOrder(result *Result, want []string) error {
	got := make([]string, 0, len(result.Report.Steps))
	for _, s := range result.Report.Steps {
		got = append(got, fmt.Sprintf("%s:%s:%s", s.Runtime, s.Action, s.Code))
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{Type: AssertStepOrder, Expected: want, Actual: got}
	}
	return nil
}

// assertTransactionState checks the journaled state of the runtime's
// transaction of this run.
func assertTransactionState(result *Result, runtime, want string) error {
	txs, ok := result.Transactions[runtime]
	if !ok || len(txs) == 0 {
		return fmt.Errorf("runtime %s journaled no transaction", runtime)
	}
	tx := txs[len(txs)-1]
	if string(tx.State) != want {
		return &AssertionError{Type: AssertTransactionState, Expected: want, Actual: string(tx.State)}
	}
	return nil
}

// assertNotification looks for a notification containing message. An
// empty level matches any level.
func assertNotification(result *Result, runtime, level, message string) error {
	var seen []string
	for _, ev := range result.Events(KindNotification) {
		if ev.Runtime != runtime {
			continue
		}
		seen = append(seen, ev.Message)
		if level != "" && ev.Level != level {
			continue
		}
		if strings.Contains(ev.Message, message) {
			return nil
		}
	}
	return fmt.Errorf("no %snotification containing %q on %s, saw %q", levelPrefix(level), message, runtime, seen)
}

func levelPrefix(level string) string {
	if level == "" {
		return ""
	}
	return level + " "
}

// assertContainerState checks a final container state from the trace.
func assertContainerState(result *Result, runtime, instance, want string) error {
	got := StateAbsent
	for _, ev := range result.Events(KindContainer) {
		if ev.Runtime == runtime && ev.Instance == instance {
			got = ev.State
			break
		}
	}
	if got != want {
		return &AssertionError{Type: AssertContainerState, Expected: want, Actual: got}
	}
	return nil
}

// assertProperty reads a property from the live component.
func (rh *runtimeHarness) assertProperty(instance, name string, want any) error {
	c, ok := rh.rt.Container(instance)
	if !ok {
		return fmt.Errorf("no container %s on %s", instance, rh.spec.ID)
	}
	got, err := c.Instance().GetProperty(name)
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	wantVal, err := ir.FromGo(want)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	if !reflect.DeepEqual(ir.ToGo(got), ir.ToGo(wantVal)) {
		return &AssertionError{Type: AssertProperty, Expected: ir.ToGo(wantVal), Actual: ir.ToGo(got)}
	}
	return nil
}

// assertInvocations compares the operations a fake received.
func (rh *runtimeHarness) assertInvocations(instance string, want []string) error {
	if rh.factory.Get(instance) == nil {
		return fmt.Errorf("no component %s was created on %s", instance, rh.spec.ID)
	}
	got := rh.factory.Fake(instance).Operations()
	if len(got) == 0 && len(want) == 0 {
		return nil
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{Type: AssertInvocations, Expected: want, Actual: got}
	}
	return nil
}
