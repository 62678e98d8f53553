package manager

import (
	"errors"
	"fmt"
	"slices"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// ChannelSpec declares a channel. Events published on it are delivered to
// every other endpoint as Operation; an empty Operation means the channel
// name.
type ChannelSpec struct {
	Name      string `json:"name" yaml:"name" toml:"name"`
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty" toml:"operation"`
}

func (s ChannelSpec) operation() string {
	if s.Operation != "" {
		return s.Operation
	}
	return s.Name
}

type channel struct {
	spec      ChannelSpec
	endpoints map[string]*container.Container
}

// RegisterChannel makes a channel available for coupling and wakes every
// job stalled on it. Registering an existing channel keeps its endpoints
// and updates its operation.
func (m *Manager) RegisterChannel(spec ChannelSpec) error {
	if spec.Name == "" {
		return errors.New("manager: channel without name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[spec.Name]; ok {
		ch.spec = spec
	} else {
		m.channels[spec.Name] = &channel{spec: spec, endpoints: make(map[string]*container.Container)}
		m.log.Debug("channel registered", "channel", spec.Name)
	}
	close(m.channelsChanged)
	m.channelsChanged = make(chan struct{})
	return nil
}

// Channels returns the registered channel names, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Endpoints returns the components coupled to a channel, sorted by
// instance id.
func (m *Manager) Endpoints(name string) []ir.ComponentItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil
	}
	return sortedItems(ch.endpoints)
}

func sortedItems(eps map[string]*container.Container) []ir.ComponentItem {
	ids := make([]string, 0, len(eps))
	for id := range eps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]ir.ComponentItem, len(ids))
	for i, id := range ids {
		out[i] = eps[id].Item()
	}
	return out
}

// missingChannels returns the names not registered yet, plus a channel
// closed on the next registration.
func (m *Manager) missingChannels(names []string) ([]string, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []string
	for _, name := range names {
		if _, ok := m.channels[name]; !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing, m.channelsChanged
}

// couple adds every container as endpoint of its declared channels. The
// channels must be registered.
func (m *Manager) couple(cs []*container.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		for _, name := range c.Descriptor().Channels {
			if ch, ok := m.channels[name]; ok {
				ch.endpoints[c.Item().InstanceID] = c
			}
		}
	}
}

// decouple removes a container from every channel and deletes the
// channels left without endpoints. Returns the removed channel names.
func (m *Manager) decouple(instanceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orphans []string
	for name, ch := range m.channels {
		if _, ok := ch.endpoints[instanceID]; !ok {
			continue
		}
		delete(ch.endpoints, instanceID)
		if len(ch.endpoints) == 0 {
			delete(m.channels, name)
			orphans = append(orphans, name)
		}
	}
	slices.Sort(orphans)
	return orphans
}

// Publish delivers payload to every endpoint of the channel except the
// sender. It implements container.Publisher; an external publisher passes
// the zero item.
func (m *Manager) Publish(from ir.ComponentItem, name string, payload ir.Object) error {
	m.mu.Lock()
	ch, ok := m.channels[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	op := ch.spec.operation()
	targets := make([]*container.Container, 0, len(ch.endpoints))
	for _, item := range sortedItems(ch.endpoints) {
		if item.InstanceID != from.InstanceID {
			targets = append(targets, ch.endpoints[item.InstanceID])
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range targets {
		err := c.Deliver(ir.BufferedEvent{
			Source:    ir.SourceChannel,
			Operation: op,
			Payload:   payload.Clone(),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
