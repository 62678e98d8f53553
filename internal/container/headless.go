package container

import (
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Headless is a component without a user interface: it keeps its
// properties in memory and acknowledges every delivered event. An
// operation named after a declared property sets that property from the
// payload's "value" key. Runtimes started from the command line host
// Headless components.
type Headless struct {
	desc ir.Descriptor

	mu    sync.Mutex
	ctx   Context
	props map[string]ir.Value
	calls int
}

// HeadlessFactory builds Headless components, migratable when the
// descriptor says so.
var HeadlessFactory = FactoryFunc(func(desc ir.Descriptor, item ir.ComponentItem) (Component, error) {
	h := &Headless{desc: desc, props: make(map[string]ir.Value)}
	if desc.Migratable {
		return &migratableHeadless{h}, nil
	}
	return h, nil
})

func (h *Headless) Init(ctx Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	ctx.Initialized()
	return nil
}

func (h *Headless) Dispose() error { return nil }
func (h *Headless) Show()          {}
func (h *Headless) Hide()          {}
func (h *Headless) Enable()        {}
func (h *Headless) Disable()       {}

func (h *Headless) SetProperty(name string, value ir.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.props[name] = value
	return nil
}

func (h *Headless) GetProperty(name string) (ir.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.props[name]; ok {
		return v, nil
	}
	return ir.Null{}, nil
}

func (h *Headless) InvokeOperation(name string, msg ir.Object) error {
	h.mu.Lock()
	h.calls++
	if _, declared := h.desc.Property(name); declared {
		if v, ok := msg["value"]; ok {
			h.props[name] = v
		}
	}
	ctx := h.ctx
	h.mu.Unlock()

	if id, ok := msg[EventIDKey].(ir.String); ok && ctx != nil {
		ctx.Processed(string(id))
	}
	return nil
}

// Invocations returns how many operations were invoked.
func (h *Headless) Invocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type migratableHeadless struct {
	*Headless
}

// Prepare is always ready: a headless component has no pending work of
// its own.
func (m *migratableHeadless) Prepare() error {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	ctx.Blocked(true)
	return nil
}

func (m *migratableHeadless) Unprepare() error { return nil }
