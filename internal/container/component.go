package container

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Lifecycle event names. These are protocol constants shared with
// component code.
const (
	EventInitialized = "__mc_initialized"
	EventBlocked     = "__mc_blocked"
	EventProcessed   = "__mc_processed"
)

// EventIDKey is the payload key under which InvokeOperation receives the
// id of the delivered event. Components echo it through Context.Processed.
const EventIDKey = "__mc_event_id"

// LifecycleEvent is a signal from a component to its container.
type LifecycleEvent struct {
	Name string
	// Ready is the payload of EventBlocked.
	Ready bool
	// EventID is the payload of EventProcessed.
	EventID string
}

// Component is the capability set every managed component implements.
type Component interface {
	Init(ctx Context) error
	Dispose() error
	Show()
	Hide()
	Enable()
	Disable()
	SetProperty(name string, value ir.Value) error
	GetProperty(name string) (ir.Value, error)
	InvokeOperation(name string, msg ir.Object) error
}

// Migratable is a Component that can be relocated. Prepare must eventually
// answer with Context.Blocked; Unprepare reverts a successful Prepare.
type Migratable interface {
	Component
	Prepare() error
	Unprepare() error
}

// IntegrationKind tells a component why it is being initialized.
type IntegrationKind string

const (
	KindFresh     IntegrationKind = "fresh"
	KindMigration IntegrationKind = "migration"
)

// Context is the execution context a container hands to its component.
// Lifecycle signals may be sent from any goroutine, including from inside
// the component call that triggered them.
type Context interface {
	Item() ir.ComponentItem
	Kind() IntegrationKind

	// Initialized signals completion of Init.
	Initialized()
	// Blocked answers Prepare.
	Blocked(ready bool)
	// Processed acknowledges a delivered event.
	Processed(eventID string)

	// Publish sends a payload on one of the component's channels.
	Publish(channel string, payload ir.Object) error
	// Request issues a service call; the response is delivered to the
	// component as operation. Returns the request id.
	Request(service, operation string, payload ir.Object) (string, error)
	// After delivers operation to the component once d has elapsed, as a
	// runtime timer event.
	After(d time.Duration, operation string, payload ir.Object)
	// Fail reports a component-internal error.
	Fail(err error)
}

// Factory constructs component instances from descriptors.
type Factory interface {
	New(desc ir.Descriptor, item ir.ComponentItem) (Component, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(desc ir.Descriptor, item ir.ComponentItem) (Component, error)

// New implements Factory.
func (f FactoryFunc) New(desc ir.Descriptor, item ir.ComponentItem) (Component, error) {
	return f(desc, item)
}

// ResourceLoader fetches and injects a component's declared resources into
// its isolated execution context.
type ResourceLoader interface {
	Load(ctx context.Context, item ir.ComponentItem, resources []string) error
}

// Presenter is the rendering side of a UI container.
type Presenter interface {
	CreateTarget(item ir.ComponentItem) error
	ShowBlocking(item ir.ComponentItem)
	HideBlocking(item ir.ComponentItem)
	Detach(item ir.ComponentItem)
}

// Publisher routes events a component publishes on its channels.
type Publisher interface {
	Publish(from ir.ComponentItem, channel string, payload ir.Object) error
}

// ServiceAccess performs service calls on behalf of components. The answer
// must come back through Container.Respond.
type ServiceAccess interface {
	Call(item ir.ComponentItem, requestID, service string, payload ir.Object) error
}

// IDGenerator produces unique event and request ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type noopLoader struct{}

func (noopLoader) Load(context.Context, ir.ComponentItem, []string) error { return nil }

type noopPresenter struct{}

func (noopPresenter) CreateTarget(ir.ComponentItem) error { return nil }
func (noopPresenter) ShowBlocking(ir.ComponentItem)       {}
func (noopPresenter) HideBlocking(ir.ComponentItem)       {}
func (noopPresenter) Detach(ir.ComponentItem)             {}
