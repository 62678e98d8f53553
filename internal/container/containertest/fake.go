// Package containertest provides scriptable fake components for tests of
// the container, manager and distribution packages.
package containertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// PrepareReply scripts how a migratable fake answers Prepare.
type PrepareReply int

const (
	// ReplyReady signals blocked with ready=true from inside Prepare.
	ReplyReady PrepareReply = iota
	// ReplyNotReady signals blocked with ready=false.
	ReplyNotReady
	// ReplySilent never signals, so the container times out.
	ReplySilent
	// ReplyError makes Prepare return an error.
	ReplyError
)

// Invocation records one InvokeOperation call.
type Invocation struct {
	Operation string
	Payload   ir.Object
}

// Component is a non-migratable fake. Properties live in a map; every
// invocation is recorded and, with AutoProcess, acknowledged.
//
// Script fields must be set before the component is handed to a container.
type Component struct {
	// SkipInit suppresses the initialized signal.
	SkipInit bool
	// InitErr is returned from Init.
	InitErr error
	// AutoProcess acknowledges every invocation immediately. Unacknowledged
	// invocations stay in the container's buffer as activity events.
	AutoProcess bool
	// SetErr and GetErr fail individual properties.
	SetErr map[string]error
	GetErr map[string]error
	// InvokeErr fails individual operations.
	InvokeErr map[string]error
	// OnInvoke runs after an invocation is recorded.
	OnInvoke func(ctx container.Context, op string, msg ir.Object)

	mu       sync.Mutex
	ctx      container.Context
	props    map[string]ir.Value
	invoked  []Invocation
	visible  bool
	enabled  bool
	disposed int
}

// NewComponent returns a fake that acknowledges every invocation.
func NewComponent() *Component {
	return &Component{AutoProcess: true}
}

func (f *Component) Init(ctx container.Context) error {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
	if f.InitErr != nil {
		return f.InitErr
	}
	if !f.SkipInit {
		ctx.Initialized()
	}
	return nil
}

func (f *Component) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed++
	return nil
}

func (f *Component) Show()    { f.setFlag(&f.visible, true) }
func (f *Component) Hide()    { f.setFlag(&f.visible, false) }
func (f *Component) Enable()  { f.setFlag(&f.enabled, true) }
func (f *Component) Disable() { f.setFlag(&f.enabled, false) }

func (f *Component) setFlag(p *bool, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*p = v
}

func (f *Component) SetProperty(name string, value ir.Value) error {
	if err := f.SetErr[name]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.props == nil {
		f.props = make(map[string]ir.Value)
	}
	f.props[name] = value
	return nil
}

func (f *Component) GetProperty(name string) (ir.Value, error) {
	if err := f.GetErr[name]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.props[name]
	if !ok {
		return ir.Null{}, nil
	}
	return v, nil
}

func (f *Component) InvokeOperation(name string, msg ir.Object) error {
	if err := f.InvokeErr[name]; err != nil {
		return err
	}
	f.mu.Lock()
	f.invoked = append(f.invoked, Invocation{Operation: name, Payload: msg})
	ctx := f.ctx
	f.mu.Unlock()

	if f.OnInvoke != nil {
		f.OnInvoke(ctx, name, msg)
	}
	if f.AutoProcess && ctx != nil {
		if id, ok := msg[container.EventIDKey].(ir.String); ok {
			ctx.Processed(string(id))
		}
	}
	return nil
}

// Context returns the context received in Init.
func (f *Component) Context() container.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

// Property returns a property value as stored, nil when unset.
func (f *Component) Property(name string) ir.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[name]
}

// Invocations returns every recorded invocation in call order.
func (f *Component) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invoked))
	copy(out, f.invoked)
	return out
}

// Operations returns the operation names of every recorded invocation.
func (f *Component) Operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.invoked))
	for i, inv := range f.invoked {
		out[i] = inv.Operation
	}
	return out
}

// Disposed returns how many times Dispose was called.
func (f *Component) Disposed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

// Enabled reports the last Enable/Disable call.
func (f *Component) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// Visible reports the last Show/Hide call.
func (f *Component) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// ErrPrepare is returned from Prepare under ReplyError.
var ErrPrepare = errors.New("containertest: prepare failed")

// MigratableComponent is a fake that supports migration.
type MigratableComponent struct {
	*Component

	// Reply scripts the answer to Prepare.
	Reply PrepareReply
	// UnprepareErr is returned from Unprepare.
	UnprepareErr error

	mu         sync.Mutex
	prepared   int
	unprepared int
}

// NewMigratable returns a migratable fake answering Prepare with ready=true.
func NewMigratable() *MigratableComponent {
	return &MigratableComponent{Component: NewComponent(), Reply: ReplyReady}
}

func (m *MigratableComponent) Prepare() error {
	m.mu.Lock()
	m.prepared++
	reply := m.Reply
	m.mu.Unlock()

	ctx := m.Context()
	switch reply {
	case ReplyReady:
		ctx.Blocked(true)
	case ReplyNotReady:
		ctx.Blocked(false)
	case ReplyError:
		return ErrPrepare
	}
	return nil
}

func (m *MigratableComponent) Unprepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UnprepareErr != nil {
		return m.UnprepareErr
	}
	m.unprepared++
	return nil
}

// SetReply changes the scripted Prepare answer.
func (m *MigratableComponent) SetReply(r PrepareReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reply = r
}

// Prepared returns how many times Prepare was called.
func (m *MigratableComponent) Prepared() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepared
}

// Unprepared returns how many times Unprepare succeeded.
func (m *MigratableComponent) Unprepared() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unprepared
}

// Factory builds fakes and remembers them by instance id. Descriptors with
// Migratable set get a MigratableComponent.
type Factory struct {
	// Setup, if set, scripts every new fake before it is returned.
	Setup func(item ir.ComponentItem, f *Component, m *MigratableComponent)
	// Fail lists instance ids whose construction fails.
	Fail map[string]error

	mu      sync.Mutex
	created map[string]container.Component
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{created: make(map[string]container.Component)}
}

// New implements container.Factory.
func (fa *Factory) New(desc ir.Descriptor, item ir.ComponentItem) (container.Component, error) {
	if err := fa.Fail[item.InstanceID]; err != nil {
		return nil, err
	}
	var comp container.Component
	if desc.Migratable {
		m := NewMigratable()
		if fa.Setup != nil {
			fa.Setup(item, m.Component, m)
		}
		comp = m
	} else {
		f := NewComponent()
		if fa.Setup != nil {
			fa.Setup(item, f, nil)
		}
		comp = f
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.created == nil {
		fa.created = make(map[string]container.Component)
	}
	fa.created[item.InstanceID] = comp
	return comp, nil
}

// Get returns the fake created for an instance id.
func (fa *Factory) Get(instanceID string) container.Component {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.created[instanceID]
}

// Fake returns the base fake for an instance id, migratable or not.
func (fa *Factory) Fake(instanceID string) *Component {
	switch c := fa.Get(instanceID).(type) {
	case *Component:
		return c
	case *MigratableComponent:
		return c.Component
	}
	panic(fmt.Sprintf("containertest: no fake for instance %q", instanceID))
}

// Migratable returns the migratable fake for an instance id.
func (fa *Factory) Migratable(instanceID string) *MigratableComponent {
	m, ok := fa.Get(instanceID).(*MigratableComponent)
	if !ok {
		panic(fmt.Sprintf("containertest: no migratable fake for instance %q", instanceID))
	}
	return m
}
