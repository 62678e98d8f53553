package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a migration scenario: the runtimes and their components
// before the migration, the scripted behavior of the fake components, the
// migration to run, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE descriptor files or directories.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs,omitempty"`

	// Descriptors declares components inline, in addition to Specs.
	Descriptors []DescriptorSpec `yaml:"descriptors,omitempty"`

	// Runtimes are started in order. Every runtime knows every descriptor
	// unless it lists its own subset.
	Runtimes []RuntimeSpec `yaml:"runtimes"`

	// Migration is run once every runtime is set up.
	Migration MigrationSpec `yaml:"migration"`

	// TransactionTimeout bounds the PREPARING phase on every runtime.
	TransactionTimeout string `yaml:"transaction_timeout,omitempty"`

	// Deadline bounds the orchestrator's context. When it expires during
	// prepare the migration is cancelled on behalf of the user.
	Deadline string `yaml:"deadline,omitempty"`

	// Assertions validate the report, trace and final runtime state.
	Assertions []Assertion `yaml:"assertions"`
}

// DescriptorSpec is an inline component descriptor.
type DescriptorSpec struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name,omitempty"`
	UI         bool           `yaml:"ui,omitempty"`
	Migratable bool           `yaml:"migratable,omitempty"`
	Channels   []string       `yaml:"channels,omitempty"`
	Operations []string       `yaml:"operations,omitempty"`
	Properties []PropertySpec `yaml:"properties,omitempty"`
}

// PropertySpec declares one interface property.
type PropertySpec struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default,omitempty"`
}

// RuntimeSpec sets up one runtime.
type RuntimeSpec struct {
	ID string `yaml:"id"`

	// Descriptors restricts the component ids this runtime knows.
	Descriptors []string `yaml:"descriptors,omitempty"`

	// Channels are registered before any component is integrated.
	Channels []ChannelSpec `yaml:"channels,omitempty"`

	// Components are integrated as one batch before the migration.
	Components []ComponentSpec `yaml:"components,omitempty"`

	// Scripts configure the fakes created on this runtime, keyed by
	// instance id. They apply to integrated and migrated instances alike.
	Scripts map[string]ScriptSpec `yaml:"scripts,omitempty"`

	// Events are published once the runtime is set up.
	Events []EventSpec `yaml:"events,omitempty"`
}

// ChannelSpec registers a communication channel.
type ChannelSpec struct {
	Name      string `yaml:"name"`
	Operation string `yaml:"operation,omitempty"`
}

// ComponentSpec is one component instance integrated before the migration.
type ComponentSpec struct {
	Component  string         `yaml:"component"`
	Instance   string         `yaml:"instance"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// ScriptSpec scripts a fake component.
type ScriptSpec struct {
	// Prepare is one of ready (default), not_ready, silent, error.
	Prepare string `yaml:"prepare,omitempty"`
	// UnprepareError makes Unprepare fail with this message.
	UnprepareError string `yaml:"unprepare_error,omitempty"`
	// InstantiateError makes construction fail with this message.
	InstantiateError string `yaml:"instantiate_error,omitempty"`
	// SetErrors fails SetProperty for the named properties.
	SetErrors map[string]string `yaml:"set_errors,omitempty"`
	// Hold leaves invocations unacknowledged so they stay buffered.
	Hold bool `yaml:"hold,omitempty"`
}

// Prepare script values.
const (
	PrepareReady    = "ready"
	PrepareNotReady = "not_ready"
	PrepareSilent   = "silent"
	PrepareError    = "error"
)

// EventSpec publishes a payload from a component on a channel.
type EventSpec struct {
	From    string         `yaml:"from"`
	Channel string         `yaml:"channel"`
	Payload map[string]any `yaml:"payload,omitempty"`
	// When is "setup" (default) or "prepared": after the source voted
	// ready and before commit.
	When string `yaml:"when,omitempty"`
}

// Event publication phases.
const (
	WhenSetup    = "setup"
	WhenPrepared = "prepared"
)

// MigrationSpec is the migration to run.
type MigrationSpec struct {
	ID            string             `yaml:"id"`
	Source        string             `yaml:"source"`
	Target        string             `yaml:"target"`
	Modifications []ModificationSpec `yaml:"modifications"`
}

// ModificationSpec is one distribution modification.
type ModificationSpec struct {
	ID         string          `yaml:"id"`
	Type       string          `yaml:"type"`
	Target     string          `yaml:"target"`
	Components []ComponentItem `yaml:"components"`
}

// ComponentItem names one component instance.
type ComponentItem struct {
	Component string `yaml:"component"`
	Instance  string `yaml:"instance"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "outcome": the report outcome equals Outcome
	// - "step_order": the report steps equal Steps ("runtime:action:CODE")
	// - "container_state": the container Instance on Runtime is in State,
	//   or absent when State is "absent"
	// - "property": the component property Property of Instance on
	//   Runtime equals Value
	// - "transaction_state": the journaled transaction on Runtime is in
	//   State
	// - "notification": Runtime emitted a notification of Level whose
	//   message contains Message
	// - "invocations": the fake Instance on Runtime received Operations
	//   in order
	Type string `yaml:"type"`

	Outcome    string   `yaml:"outcome,omitempty"`
	Steps      []string `yaml:"steps,omitempty"`
	Runtime    string   `yaml:"runtime,omitempty"`
	Instance   string   `yaml:"instance,omitempty"`
	State      string   `yaml:"state,omitempty"`
	Property   string   `yaml:"property,omitempty"`
	Value      any      `yaml:"value,omitempty"`
	Level      string   `yaml:"level,omitempty"`
	Message    string   `yaml:"message,omitempty"`
	Operations []string `yaml:"operations,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome          = "outcome"
	AssertStepOrder        = "step_order"
	AssertContainerState   = "container_state"
	AssertProperty         = "property"
	AssertTransactionState = "transaction_state"
	AssertNotification     = "notification"
	AssertInvocations      = "invocations"
)

// StateAbsent asserts that a container does not exist.
const StateAbsent = "absent"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Spec paths are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and
// references resolve.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Runtimes) == 0 {
		return fmt.Errorf("at least one runtime is required")
	}
	for _, d := range []struct{ field, value string }{
		{"transaction_timeout", s.TransactionTimeout},
		{"deadline", s.Deadline},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
	}

	runtimes := make(map[string]bool, len(s.Runtimes))
	for i, rt := range s.Runtimes {
		if rt.ID == "" {
			return fmt.Errorf("runtimes[%d]: id is required", i)
		}
		if runtimes[rt.ID] {
			return fmt.Errorf("runtimes[%d]: duplicate runtime id %q", i, rt.ID)
		}
		runtimes[rt.ID] = true
		for j, c := range rt.Components {
			if c.Component == "" || c.Instance == "" {
				return fmt.Errorf("runtimes[%d].components[%d]: component and instance are required", i, j)
			}
		}
		for name, sc := range rt.Scripts {
			switch sc.Prepare {
			case "", PrepareReady, PrepareNotReady, PrepareSilent, PrepareError:
			default:
				return fmt.Errorf("runtimes[%d].scripts[%s]: unknown prepare script %q", i, name, sc.Prepare)
			}
		}
		for j, ev := range rt.Events {
			if ev.From == "" || ev.Channel == "" {
				return fmt.Errorf("runtimes[%d].events[%d]: from and channel are required", i, j)
			}
			switch ev.When {
			case "", WhenSetup, WhenPrepared:
			default:
				return fmt.Errorf("runtimes[%d].events[%d]: unknown phase %q", i, j, ev.When)
			}
		}
	}

	m := s.Migration
	if m.ID == "" {
		return fmt.Errorf("migration.id is required")
	}
	if !runtimes[m.Source] {
		return fmt.Errorf("migration.source %q is not a declared runtime", m.Source)
	}
	if !runtimes[m.Target] {
		return fmt.Errorf("migration.target %q is not a declared runtime", m.Target)
	}
	if len(m.Modifications) == 0 {
		return fmt.Errorf("migration.modifications must not be empty")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutcome:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome", index)
		}
	case AssertStepOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for step_order", index)
		}
	case AssertContainerState, AssertTransactionState:
		if a.Runtime == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: runtime and state are required for %s", index, a.Type)
		}
		if a.Type == AssertContainerState && a.Instance == "" {
			return fmt.Errorf("assertions[%d]: instance is required for container_state", index)
		}
	case AssertProperty:
		if a.Runtime == "" || a.Instance == "" || a.Property == "" {
			return fmt.Errorf("assertions[%d]: runtime, instance and property are required for property", index)
		}
	case AssertNotification:
		if a.Runtime == "" || a.Message == "" {
			return fmt.Errorf("assertions[%d]: runtime and message are required for notification", index)
		}
	case AssertInvocations:
		if a.Runtime == "" || a.Instance == "" {
			return fmt.Errorf("assertions[%d]: runtime and instance are required for invocations", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
