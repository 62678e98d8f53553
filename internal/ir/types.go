package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ComponentItem identifies one component instance. Immutable once created.
type ComponentItem struct {
	ComponentID string `json:"component_id"`
	InstanceID  string `json:"instance_id"`
}

func (i ComponentItem) String() string {
	return i.ComponentID + "/" + i.InstanceID
}

// Descriptor is the compiled description of a component type: what it
// needs loaded, what it exposes and which channels it is wired to.
type Descriptor struct {
	ComponentID string         `json:"component_id"`
	Name        string         `json:"name"`
	UI          bool           `json:"ui"`
	Migratable  bool           `json:"migratable"`
	Resources   []string       `json:"resources,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
	Operations  []string       `json:"operations,omitempty"`
	Properties  []PropertyDecl `json:"properties,omitempty"`
}

// PropertyDecl declares one interface property. Declaration order matters.
type PropertyDecl struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default Value  `json:"default,omitempty"`
}

// Property looks up a declared property by name.
func (d Descriptor) Property(name string) (PropertyDecl, bool) {
	for _, p := range d.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDecl{}, false
}

// Checkpoint is a snapshot of every declared interface property of one
// component instance, in declaration order.
type Checkpoint struct {
	InstanceID  string               `json:"instance_id"`
	ComponentID string               `json:"component_id"`
	Properties  []CheckpointProperty `json:"properties"`
}

// CheckpointProperty is one captured (name, value, declared type) triple.
type CheckpointProperty struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
	Type  string `json:"type"`
}

// MarshalJSON encodes the property with its Value.
func (p CheckpointProperty) MarshalJSON() ([]byte, error) {
	vb, err := MarshalValue(p.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
		Type  string          `json:"type"`
	}{p.Name, vb, p.Type})
}

// UnmarshalJSON decodes the property value into a Value.
func (p *CheckpointProperty) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
		Type  string          `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name, p.Type = raw.Name, raw.Type
	p.Value = Null{}
	if len(raw.Value) > 0 {
		v, err := DecodeValue(raw.Value)
		if err != nil {
			return fmt.Errorf("property %q: %w", raw.Name, err)
		}
		p.Value = v
	}
	return nil
}

// MarshalJSON encodes the declaration with its default Value.
func (p PropertyDecl) MarshalJSON() ([]byte, error) {
	var def json.RawMessage
	if p.Default != nil {
		b, err := MarshalValue(p.Default)
		if err != nil {
			return nil, err
		}
		def = b
	}
	return json.Marshal(struct {
		Name    string          `json:"name"`
		Type    string          `json:"type"`
		Default json.RawMessage `json:"default,omitempty"`
	}{p.Name, p.Type, def})
}

// UnmarshalJSON decodes the default into a Value.
func (p *PropertyDecl) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string          `json:"name"`
		Type    string          `json:"type"`
		Default json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name, p.Type, p.Default = raw.Name, raw.Type, nil
	if len(raw.Default) > 0 {
		v, err := DecodeValue(raw.Default)
		if err != nil {
			return fmt.Errorf("property %q default: %w", raw.Name, err)
		}
		p.Default = v
	}
	return nil
}

// ModificationType is the kind of change a DistributionModification makes
// to one runtime's component set.
type ModificationType string

const (
	ModAdd    ModificationType = "ADD"
	ModRemove ModificationType = "REM"
	ModCreate ModificationType = "CREATE"
)

// ErrInvalidMigration classifies malformed migration requests.
var ErrInvalidMigration = errors.New("ir: invalid migration")

// DistributionModification is one indivisible change to one runtime.
type DistributionModification struct {
	ID              string           `json:"id"`
	TargetRuntimeID string           `json:"target_runtime_id"`
	Type            ModificationType `json:"type"`
	Components      []ComponentItem  `json:"components"`
}

// Validate checks required fields.
func (m DistributionModification) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: modification missing id", ErrInvalidMigration)
	}
	if strings.TrimSpace(m.TargetRuntimeID) == "" {
		return fmt.Errorf("%w: modification %s missing target_runtime_id", ErrInvalidMigration, m.ID)
	}
	switch m.Type {
	case ModAdd, ModRemove, ModCreate:
	default:
		return fmt.Errorf("%w: modification %s has unknown type %q", ErrInvalidMigration, m.ID, m.Type)
	}
	if len(m.Components) == 0 {
		return fmt.Errorf("%w: modification %s lists no components", ErrInvalidMigration, m.ID)
	}
	for idx, c := range m.Components {
		if c.ComponentID == "" || c.InstanceID == "" {
			return fmt.Errorf("%w: modification %s components[%d] incomplete", ErrInvalidMigration, m.ID, idx)
		}
	}
	return nil
}

// Migration is an atomic set of modifications spanning possibly many runtimes.
type Migration struct {
	ID            string                     `json:"id"`
	Modifications []DistributionModification `json:"modifications"`
}

// Validate checks the migration and every modification.
func (m Migration) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMigration)
	}
	if len(m.Modifications) == 0 {
		return fmt.Errorf("%w: %s has no modifications", ErrInvalidMigration, m.ID)
	}
	seen := make(map[string]bool)
	for idx := range m.Modifications {
		if err := m.Modifications[idx].Validate(); err != nil {
			return fmt.Errorf("modifications[%d]: %w", idx, err)
		}
		for _, c := range m.Modifications[idx].Components {
			key := m.Modifications[idx].TargetRuntimeID + "|" + c.InstanceID
			if seen[key] {
				return fmt.Errorf("%w: instance %s listed twice for %s", ErrInvalidMigration, c.InstanceID, m.Modifications[idx].TargetRuntimeID)
			}
			seen[key] = true
		}
	}
	return nil
}

// EventKind separates buffered events by what happens to them.
type EventKind string

const (
	// EventActivity was in flight when blocking began; replayed on cancel,
	// carried with the checkpoint on success.
	EventActivity EventKind = "activity"
	// EventDownstream arrived while the component was blocked; forwarded
	// to the target after commit.
	EventDownstream EventKind = "downstream"
)

// InputSource is one of the three independent input channels of a container.
type InputSource string

const (
	SourceChannel InputSource = "channel"
	SourceService InputSource = "service"
	SourceTimer   InputSource = "timer"
)

// InputSources lists every input source.
var InputSources = []InputSource{SourceChannel, SourceService, SourceTimer}

// BufferedEvent is one component-bound event held in a container's buffer.
type BufferedEvent struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	Source    InputSource `json:"source"`
	Operation string      `json:"operation"`
	Payload   Object      `json:"payload"`
	Seq       int64       `json:"seq"`
}

// MigratedState is the serialized result of preparing one component on the
// source: its checkpoint, the checkpoint digest, and its activity events.
type MigratedState struct {
	Item       ComponentItem   `json:"item"`
	Checkpoint Checkpoint      `json:"checkpoint"`
	Digest     string          `json:"digest"`
	Events     []BufferedEvent `json:"events"`
}

// MigratedEvents carries the downstream events of one component from the
// source commit to the target commit.
type MigratedEvents struct {
	Item   ComponentItem   `json:"item"`
	Events []BufferedEvent `json:"events"`
}
