package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Fixed protocol timeouts.
const (
	InitTimeout    = 10 * time.Second
	PrepareTimeout = 10 * time.Second
)

// ErrorHandler receives container-local failures: failed invocations and
// errors a component reports through Context.Fail.
type ErrorHandler func(item ir.ComponentItem, err error)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) { c.log = l }
}

// WithFactory sets the component factory used by Instantiate.
func WithFactory(f Factory) Option {
	return func(c *Container) { c.factory = f }
}

// WithLoader sets the resource loader. Default: loads nothing.
func WithLoader(l ResourceLoader) Option {
	return func(c *Container) { c.loader = l }
}

// WithPresenter sets the presenter for UI containers.
func WithPresenter(p Presenter) Option {
	return func(c *Container) { c.presenter = p }
}

// WithPublisher attaches the container to a channel registry.
func WithPublisher(p Publisher) Option {
	return func(c *Container) { c.publisher = p }
}

// WithServiceAccess sets the service access used by Context.Request.
func WithServiceAccess(s ServiceAccess) Option {
	return func(c *Container) { c.services = s }
}

// WithIDGenerator sets the generator for event and request ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Container) { c.ids = g }
}

// WithErrorHandler sets the handler for container-local failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Container) { c.onError = h }
}

// WithInitTimeout overrides InitTimeout. Intended for tests.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Container) { c.initTimeout = d }
}

// WithPrepareTimeout overrides PrepareTimeout. Intended for tests.
func WithPrepareTimeout(d time.Duration) Option {
	return func(c *Container) { c.prepareTimeout = d }
}

// Container owns exactly one component instance and drives it through its
// life cycle.
//
// Thread-safety: all methods are safe for concurrent use. Migration
// operations (PrepareMigration, CancelMigration) are additionally guarded
// so that only one runs at a time; a concurrent call is rejected with
// AlreadyInTransitionError instead of interleaving. A successful prepare
// makes its transaction the owner of the BLOCKED container until cancel,
// unblock or remove; operations naming another transaction are rejected.
type Container struct {
	item ir.ComponentItem
	desc ir.Descriptor

	factory   Factory
	loader    ResourceLoader
	presenter Presenter
	publisher Publisher
	services  ServiceAccess
	ids       IDGenerator
	onError   ErrorHandler
	log       *slog.Logger

	initTimeout    time.Duration
	prepareTimeout time.Duration

	buffer   *EventBuffer
	requests *requestCounter
	transit  atomic.Bool

	initCh    chan struct{}
	blockedCh chan bool

	mu          sync.Mutex
	state       State
	owner       string // transaction holding the container BLOCKED
	kind        IntegrationKind
	config      ir.Object
	instance    Component
	coupled     map[ir.InputSource]bool
	pending     []ir.BufferedEvent
	dispatching bool
	timers      map[*time.Timer]struct{}
	seq         int64
}

// New creates a container in CONSTRUCTED with every input source decoupled.
func New(item ir.ComponentItem, desc ir.Descriptor, opts ...Option) *Container {
	c := &Container{
		item:           item,
		desc:           desc,
		loader:         noopLoader{},
		presenter:      noopPresenter{},
		ids:            UUIDv7Generator{},
		log:            slog.Default(),
		initTimeout:    InitTimeout,
		prepareTimeout: PrepareTimeout,
		buffer:         NewEventBuffer(),
		requests:       newRequestCounter(),
		initCh:         make(chan struct{}, 1),
		blockedCh:      make(chan bool, 1),
		state:          StateConstructed,
		kind:           KindFresh,
		coupled:        make(map[ir.InputSource]bool, len(ir.InputSources)),
		timers:         make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("instance", item.InstanceID, "component", item.ComponentID)
	return c
}

// Item returns the identity of the managed component.
func (c *Container) Item() ir.ComponentItem { return c.item }

// Descriptor returns the descriptor the container was created from.
func (c *Container) Descriptor() ir.Descriptor { return c.desc }

// State returns the current life-cycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Owner returns the id of the transaction whose prepare blocked the
// container, or "" when none holds it.
func (c *Container) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Buffer exposes the event buffer for inspection.
func (c *Container) Buffer() *EventBuffer { return c.buffer }

// OutstandingRequests returns the number of unanswered service requests.
func (c *Container) OutstandingRequests() int { return c.requests.count() }

// Coupled reports whether an input source currently delivers to the
// component.
func (c *Container) Coupled(src ir.InputSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coupled[src]
}

// Instance returns the component instance, nil before Instantiate.
func (c *Container) Instance() Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

// SetPublisher attaches the container to a channel registry after
// construction.
func (c *Container) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// transitionLocked moves to the given state. Caller holds c.mu.
func (c *Container) transitionLocked(to State) error {
	if !CanTransition(c.state, to) {
		return &IllegalTransitionError{Item: c.item, From: c.state, To: to}
	}
	c.log.Debug("container transition", "from", c.state, "to", to)
	c.state = to
	return nil
}

func (c *Container) expect(want State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRemoved {
		return ErrRemoved
	}
	if c.state != want {
		return &IllegalTransitionError{Item: c.item, From: c.state, To: next(want)}
	}
	return nil
}

// next names the state an operation starting in s would move to, for error
// reporting.
func next(s State) State {
	switch s {
	case StateConstructed:
		return StateLoaded
	case StateLoaded:
		return StateInstantiated
	case StateInstantiated:
		return StateInitialized
	case StateInitialized, StateBlocked, StateRecovery:
		return StateActive
	case StateActive:
		return StateBlocked
	}
	return s
}

// LoadResources fetches the declared resources and moves to LOADED. A
// container that already loaded its resources returns nil without loading
// again. On failure the container stays CONSTRUCTED.
func (c *Container) LoadResources(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRemoved:
		c.mu.Unlock()
		return ErrRemoved
	case StateConstructed:
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.loader.Load(ctx, c.item, c.desc.Resources); err != nil {
		return &ResourceError{Item: c.item, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoaded {
		return nil
	}
	return c.transitionLocked(StateLoaded)
}

// Instantiate creates the component instance from the descriptor and the
// instance configuration and moves to INSTANTIATED. UI containers get a
// render target first.
func (c *Container) Instantiate(ctx context.Context, config ir.Object) error {
	if err := c.expect(StateLoaded); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.factory == nil {
		return &InstantiationError{Item: c.item, Err: errors.New("no component factory")}
	}
	if c.desc.UI {
		if err := c.presenter.CreateTarget(c.item); err != nil {
			return &InstantiationError{Item: c.item, Err: fmt.Errorf("create render target: %w", err)}
		}
	}
	inst, err := c.factory.New(c.desc, c.item)
	if err != nil {
		return &InstantiationError{Item: c.item, Err: err}
	}
	if inst == nil {
		return &InstantiationError{Item: c.item, Err: errors.New("factory returned no component")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateInstantiated); err != nil {
		return err
	}
	c.instance = inst
	c.config = config.Clone()
	return nil
}

// Initialize calls the component's Init and waits for its initialized
// lifecycle event. The wait is bounded by InitTimeout; a timeout is final
// and leaves the container INSTANTIATED.
func (c *Container) Initialize(ctx context.Context, kind IntegrationKind) error {
	if err := c.expect(StateInstantiated); err != nil {
		return err
	}
	c.mu.Lock()
	c.kind = kind
	inst := c.instance
	c.mu.Unlock()

	select {
	case <-c.initCh:
	default:
	}

	timer := time.NewTimer(c.initTimeout)
	defer timer.Stop()

	if err := inst.Init(&componentContext{c: c}); err != nil {
		return &InitError{Item: c.item, Err: err}
	}

	select {
	case <-c.initCh:
	case <-timer.C:
		c.log.Warn("component did not signal initialized", "timeout", c.initTimeout)
		return &TimeoutError{Item: c.item, Op: "initialize", Timeout: c.initTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateInitialized)
}

// ApplyProperties applies the declared defaults merged with the instance
// configuration, in declaration order, then activates the container and
// couples its inputs. Configuration values win over defaults.
func (c *Container) ApplyProperties() error {
	if err := c.expect(StateInitialized); err != nil {
		return err
	}
	inst := c.Instance()
	for _, prop := range c.initialProperties() {
		if err := inst.SetProperty(prop.Name, prop.Value); err != nil {
			return &PropertyError{Item: c.item, Name: prop.Name, Err: err}
		}
	}

	c.mu.Lock()
	if err := c.transitionLocked(StateActive); err != nil {
		c.mu.Unlock()
		return err
	}
	c.recoupleLocked(nil)
	c.mu.Unlock()

	c.activate(inst)
	c.dispatch()
	return nil
}

// activate shows a UI component and enables its interaction.
func (c *Container) activate(inst Component) {
	if inst == nil {
		return
	}
	if c.desc.UI {
		inst.Show()
	}
	inst.Enable()
}

// initialProperties merges declared defaults with instance configuration.
// Properties without either are skipped.
func (c *Container) initialProperties() []ir.CheckpointProperty {
	c.mu.Lock()
	config := c.config
	c.mu.Unlock()

	out := make([]ir.CheckpointProperty, 0, len(c.desc.Properties))
	for _, decl := range c.desc.Properties {
		val := decl.Default
		if v, ok := config[decl.Name]; ok {
			val = v
		}
		if val == nil {
			continue
		}
		out = append(out, ir.CheckpointProperty{Name: decl.Name, Value: val, Type: decl.Type})
	}
	return out
}

// Block decouples every input source so that new input is buffered as
// downstream events. Events queued for delivery but not yet handed to the
// component become downstream too.
func (c *Container) Block() error {
	c.mu.Lock()
	if c.state == StateRemoved {
		c.mu.Unlock()
		return ErrRemoved
	}
	if err := c.transitionLocked(StateBlocked); err != nil {
		c.mu.Unlock()
		return err
	}
	for _, src := range ir.InputSources {
		c.coupled[src] = false
	}
	for _, ev := range c.pending {
		c.buffer.SetKind(ev.ID, ir.EventDownstream)
	}
	c.pending = nil
	inst := c.instance
	c.mu.Unlock()

	if inst != nil {
		inst.Disable()
	}
	if c.desc.UI {
		c.presenter.ShowBlocking(c.item)
	}
	return nil
}

// Unblock recouples the inputs and delivers the events buffered while
// blocked, in arrival order.
func (c *Container) Unblock() error {
	c.mu.Lock()
	if c.state == StateRemoved {
		c.mu.Unlock()
		return ErrRemoved
	}
	if err := c.transitionLocked(StateActive); err != nil {
		c.mu.Unlock()
		return err
	}
	c.owner = ""
	c.recoupleLocked(nil)
	inst := c.instance
	c.mu.Unlock()

	if inst != nil {
		inst.Enable()
	}
	if c.desc.UI {
		c.presenter.HideBlocking(c.item)
	}
	c.dispatch()
	return nil
}

// recoupleLocked queues first (as activity events) followed by every
// downstream entry of the buffer, then couples all inputs. Caller holds
// c.mu and must call dispatch after unlocking.
func (c *Container) recoupleLocked(first []ir.BufferedEvent) {
	for _, ev := range first {
		ev.Kind = ir.EventActivity
		if c.buffer.Append(ev) {
			c.pending = append(c.pending, ev)
		}
	}
	for _, ev := range c.buffer.Downstream() {
		c.buffer.SetKind(ev.ID, ir.EventActivity)
		ev.Kind = ir.EventActivity
		c.pending = append(c.pending, ev)
	}
	for _, src := range ir.InputSources {
		c.coupled[src] = true
	}
}

// Deliver routes one input event. If its source is coupled the event is
// recorded as activity and handed to the component; otherwise it is
// buffered as downstream. Events without an id get one.
func (c *Container) Deliver(ev ir.BufferedEvent) error {
	if ev.Operation == "" {
		return fmt.Errorf("container %s: deliver: empty operation", c.item)
	}
	c.mu.Lock()
	if c.state == StateRemoved {
		c.mu.Unlock()
		return ErrRemoved
	}
	if ev.ID == "" {
		ev.ID = c.ids.Generate()
	}
	c.seq++
	ev.Seq = c.seq
	if ev.Source == "" {
		ev.Source = ir.SourceChannel
	}
	coupled := c.coupled[ev.Source]
	if coupled {
		ev.Kind = ir.EventActivity
	} else {
		ev.Kind = ir.EventDownstream
	}
	if !c.buffer.Append(ev) {
		c.mu.Unlock()
		c.log.Debug("duplicate event ignored", "event", ev.ID)
		return nil
	}
	if coupled {
		c.pending = append(c.pending, ev)
	}
	c.mu.Unlock()

	if coupled {
		c.dispatch()
	}
	return nil
}

// dispatch hands queued events to the component one at a time in FIFO
// order. Only one goroutine drains at a time; a Deliver from inside
// InvokeOperation queues behind the current event instead of recursing.
func (c *Container) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.pending) > 0 && c.state != StateRemoved {
		ev := c.pending[0]
		c.pending[0] = ir.BufferedEvent{}
		c.pending = c.pending[1:]
		inst := c.instance
		c.mu.Unlock()

		if err := inst.InvokeOperation(ev.Operation, withEventID(ev)); err != nil {
			c.buffer.Remove(ev.ID)
			c.fail(fmt.Errorf("invoke %s: %w", ev.Operation, err))
		}

		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

// withEventID returns a copy of the payload carrying the event id under
// EventIDKey, so the component can acknowledge it.
func withEventID(ev ir.BufferedEvent) ir.Object {
	msg := make(ir.Object, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		msg[k] = v
	}
	msg[EventIDKey] = ir.String(ev.ID)
	return msg
}

func (c *Container) fail(err error) {
	c.log.Error("component error", "error", err)
	if c.onError != nil {
		c.onError(c.item, err)
	}
}

// Respond delivers the answer to an outstanding service request as a
// service-source event and decrements the outstanding request count.
func (c *Container) Respond(requestID string, payload ir.Object) error {
	op, ok := c.requests.done(requestID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return c.Deliver(ir.BufferedEvent{
		Source:    ir.SourceService,
		Operation: op,
		Payload:   payload,
	})
}

// OnLifecycleEvent is the only way a component reports completion back to
// its container.
func (c *Container) OnLifecycleEvent(ev LifecycleEvent) error {
	switch ev.Name {
	case EventInitialized:
		select {
		case c.initCh <- struct{}{}:
		default:
		}
	case EventBlocked:
		select {
		case c.blockedCh <- ev.Ready:
		default:
			c.log.Debug("blocked signal dropped, one already pending", "ready", ev.Ready)
		}
	case EventProcessed:
		if !c.buffer.Remove(ev.EventID) {
			c.log.Debug("processed signal for unknown event", "event", ev.EventID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLifecycleEvent, ev.Name)
	}
	return nil
}

// Remove disposes the component and moves to REMOVED. Timers stop, the
// buffer is cleared and the render target detached. A dispose failure is
// returned but the container is removed regardless.
func (c *Container) Remove() error {
	c.mu.Lock()
	if c.state == StateRemoved {
		c.mu.Unlock()
		return ErrRemoved
	}
	if err := c.transitionLocked(StateRemoved); err != nil {
		c.mu.Unlock()
		return err
	}
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	for _, src := range ir.InputSources {
		c.coupled[src] = false
	}
	c.pending = nil
	c.owner = ""
	inst := c.instance
	c.instance = nil
	c.mu.Unlock()

	dropped := c.buffer.Clear()
	c.requests.reset()
	if dropped > 0 {
		c.log.Debug("buffered events discarded on remove", "count", dropped)
	}

	var err error
	if inst != nil {
		if c.desc.UI {
			inst.Hide()
		}
		if derr := inst.Dispose(); derr != nil {
			err = fmt.Errorf("container %s: dispose: %w", c.item, derr)
		}
	}
	if c.desc.UI {
		c.presenter.Detach(c.item)
	}
	return err
}

// componentContext is the Context handed to a component's Init.
type componentContext struct {
	c *Container
}

func (x *componentContext) Item() ir.ComponentItem { return x.c.item }

func (x *componentContext) Kind() IntegrationKind {
	x.c.mu.Lock()
	defer x.c.mu.Unlock()
	return x.c.kind
}

func (x *componentContext) Initialized() {
	_ = x.c.OnLifecycleEvent(LifecycleEvent{Name: EventInitialized})
}

func (x *componentContext) Blocked(ready bool) {
	_ = x.c.OnLifecycleEvent(LifecycleEvent{Name: EventBlocked, Ready: ready})
}

func (x *componentContext) Processed(eventID string) {
	_ = x.c.OnLifecycleEvent(LifecycleEvent{Name: EventProcessed, EventID: eventID})
}

func (x *componentContext) Publish(channel string, payload ir.Object) error {
	x.c.mu.Lock()
	pub := x.c.publisher
	x.c.mu.Unlock()
	if pub == nil {
		return ErrNoPublisher
	}
	return pub.Publish(x.c.item, channel, payload)
}

func (x *componentContext) Request(service, operation string, payload ir.Object) (string, error) {
	if x.c.services == nil {
		return "", ErrNoServiceAccess
	}
	id := x.c.ids.Generate()
	x.c.requests.add(id, operation)
	if err := x.c.services.Call(x.c.item, id, service, payload); err != nil {
		x.c.requests.done(id)
		return "", err
	}
	return id, nil
}

func (x *componentContext) After(d time.Duration, operation string, payload ir.Object) {
	c := x.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRemoved {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.mu.Unlock()
		if !live {
			return
		}
		if err := c.Deliver(ir.BufferedEvent{Source: ir.SourceTimer, Operation: operation, Payload: payload}); err != nil && !errors.Is(err, ErrRemoved) {
			c.fail(err)
		}
	})
	c.timers[t] = struct{}{}
}

func (x *componentContext) Fail(err error) {
	if err != nil {
		x.c.fail(err)
	}
}
