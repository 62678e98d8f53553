package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
)

// DefaultIntegrationTimeout bounds an integration job.
const DefaultIntegrationTimeout = 30 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: the runtime context's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithLoader sets the resource loader handed to every container.
func WithLoader(l container.ResourceLoader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithPresenter sets the presenter handed to every container.
func WithPresenter(p container.Presenter) Option {
	return func(m *Manager) { m.presenter = p }
}

// WithServiceAccess sets the service access handed to every container.
func WithServiceAccess(s container.ServiceAccess) Option {
	return func(m *Manager) { m.services = s }
}

// WithIDGenerator sets the generator for job ids and container event ids.
func WithIDGenerator(g container.IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithIntegrationTimeout bounds every integration job.
// Default: DefaultIntegrationTimeout.
func WithIntegrationTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithContainerOptions appends options to every container the manager
// creates.
func WithContainerOptions(opts ...container.Option) Option {
	return func(m *Manager) { m.containerOpts = append(m.containerOpts, opts...) }
}

// Manager integrates and removes component batches on one runtime.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	rt            *node.RuntimeContext
	factory       container.Factory
	loader        container.ResourceLoader
	presenter     container.Presenter
	services      container.ServiceAccess
	ids           container.IDGenerator
	timeout       time.Duration
	containerOpts []container.Option
	log           *slog.Logger

	mu              sync.Mutex
	channels        map[string]*channel
	channelsChanged chan struct{}
}

// New creates a manager for rt that builds components with factory.
func New(rt *node.RuntimeContext, factory container.Factory, opts ...Option) *Manager {
	m := &Manager{
		rt:              rt,
		factory:         factory,
		ids:             container.UUIDv7Generator{},
		timeout:         DefaultIntegrationTimeout,
		log:             rt.Logger(),
		channels:        make(map[string]*channel),
		channelsChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Runtime returns the runtime context the manager integrates into.
func (m *Manager) Runtime() *node.RuntimeContext { return m.rt }

// IntegrateBatch integrates a batch and waits for the job to settle.
func (m *Manager) IntegrateBatch(ctx context.Context, batch Batch) (*IntegrationJob, error) {
	job, err := m.StartBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	return job, job.Wait(ctx)
}

// StartBatch validates a batch and starts integrating it in the
// background. The job's lifetime is bounded by ctx and the integration
// timeout.
func (m *Manager) StartBatch(ctx context.Context, batch Batch) (*IntegrationJob, error) {
	if len(batch.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	seen := make(map[string]bool, len(batch.Items))
	for _, bi := range batch.Items {
		if bi.Item.InstanceID == "" || bi.Item.ComponentID == "" {
			return nil, fmt.Errorf("manager: incomplete component item %q", bi.Item)
		}
		if seen[bi.Item.InstanceID] {
			return nil, fmt.Errorf("manager: instance %s listed twice", bi.Item.InstanceID)
		}
		seen[bi.Item.InstanceID] = true
		if _, visible := m.rt.Container(bi.Item.InstanceID); visible {
			return nil, fmt.Errorf("%w: %s", node.ErrDuplicateInstance, bi.Item)
		}
	}

	job := newJob(m.ids.Generate())
	jobCtx, cancel := context.WithTimeout(ctx, m.timeout)
	go func() {
		defer cancel()
		m.run(jobCtx, job, batch)
	}()
	return job, nil
}

func (m *Manager) run(ctx context.Context, job *IntegrationJob, batch Batch) {
	log := m.log.With("job", job.ID)
	log.Info("integration started", "components", len(batch.Items), "kind", batch.Kind())

	cs := m.integrate(ctx, job, batch, log)

	err := m.settle(ctx, job, cs)
	if err != nil {
		m.discard(cs)
		log.Warn("integration failed", "error", err)
	} else {
		log.Info("integration complete")
	}

	job.mu.Lock()
	job.err = err
	if err == nil {
		job.containers = cs
	}
	job.mu.Unlock()
	close(job.done)
}

// settle turns the job's marks into the final result and, on success,
// makes the batch visible.
func (m *Manager) settle(ctx context.Context, job *IntegrationJob, cs []*container.Container) error {
	if job.Complete() {
		if err := m.rt.Attach(cs...); err != nil {
			return err
		}
		return nil
	}
	ie := &IntegrationError{
		JobID:    job.ID,
		TimedOut: ctx.Err() != nil,
		Missing:  job.missing(),
		Failures: job.Failures(),
	}
	if !job.Checked(MarkCoupling) {
		ie.MissingChannels, _ = m.missingChannels(declaredChannels(m.live(job, cs)))
	}
	return ie
}

func (m *Manager) integrate(ctx context.Context, job *IntegrationJob, batch Batch, log *slog.Logger) []*container.Container {
	cs := make([]*container.Container, 0, len(batch.Items))
	configs := make(map[string]ir.Object, len(batch.Items))
	for _, bi := range batch.Items {
		desc, ok := m.rt.Descriptor(bi.Item.ComponentID)
		if !ok {
			desc = ir.Descriptor{ComponentID: bi.Item.ComponentID}
			job.fail(bi.Item.InstanceID, fmt.Errorf("%w: %s", node.ErrUnknownComponent, bi.Item.ComponentID))
		}
		cs = append(cs, m.newContainer(bi.Item, desc))
		configs[bi.Item.InstanceID] = bi.Config
	}

	// Resources.
	m.each(ctx, job, cs, func(c *container.Container) error {
		return c.LoadResources(ctx)
	})
	m.checkIfClean(job, cs, MarkResources)

	// Instantiation.
	m.each(ctx, job, cs, func(c *container.Container) error {
		err := c.Instantiate(ctx, configs[c.Item().InstanceID])
		if container.IsInstantiation(err) {
			m.rt.Notify(ir.LevelError, "", c.Item().InstanceID, err.Error())
		}
		return err
	})
	m.checkIfClean(job, cs, MarkInstantiation)

	// Coupling.
	for _, spec := range batch.Channels {
		if err := m.RegisterChannel(spec); err != nil {
			log.Warn("batch channel rejected", "error", err)
		}
	}
	live := m.live(job, cs)
	if err := m.awaitChannels(ctx, declaredChannels(live)); err != nil {
		return cs
	}
	m.couple(live)
	if len(live) == len(cs) {
		job.Check(MarkCoupling)
	}

	// Initialization.
	m.each(ctx, job, cs, func(c *container.Container) error {
		if err := c.Initialize(ctx, batch.Kind()); err != nil {
			return err
		}
		if batch.States == nil {
			return c.ApplyProperties()
		}
		state, ok := batch.States[c.Item().InstanceID]
		if !ok {
			return fmt.Errorf("no migrated state for %s", c.Item())
		}
		report, err := c.Recover(ctx, state)
		if err != nil {
			return err
		}
		job.setReport(c.Item().InstanceID, report)
		return nil
	})
	m.checkIfClean(job, cs, MarkInitialization)
	return cs
}

func (m *Manager) newContainer(item ir.ComponentItem, desc ir.Descriptor) *container.Container {
	opts := []container.Option{
		container.WithLogger(m.log),
		container.WithFactory(m.factory),
		container.WithPublisher(m),
		container.WithIDGenerator(m.ids),
		container.WithErrorHandler(func(item ir.ComponentItem, err error) {
			m.rt.Notify(ir.LevelError, "", item.InstanceID, err.Error())
		}),
	}
	if m.loader != nil {
		opts = append(opts, container.WithLoader(m.loader))
	}
	if m.presenter != nil {
		opts = append(opts, container.WithPresenter(m.presenter))
	}
	if m.services != nil {
		opts = append(opts, container.WithServiceAccess(m.services))
	}
	opts = append(opts, m.containerOpts...)
	return container.New(item, desc, opts...)
}

// each runs fn concurrently for every container that has not failed yet
// and records new failures.
func (m *Manager) each(ctx context.Context, job *IntegrationJob, cs []*container.Container, fn func(*container.Container) error) {
	if ctx.Err() != nil {
		return
	}
	var wg sync.WaitGroup
	for _, c := range m.live(job, cs) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(c); err != nil {
				job.fail(c.Item().InstanceID, err)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) live(job *IntegrationJob, cs []*container.Container) []*container.Container {
	out := make([]*container.Container, 0, len(cs))
	for _, c := range cs {
		if !job.failed(c.Item().InstanceID) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) checkIfClean(job *IntegrationJob, cs []*container.Container, mark Mark) {
	if len(m.live(job, cs)) == len(cs) {
		job.Check(mark)
	}
}

// awaitChannels stalls until every named channel is registered.
func (m *Manager) awaitChannels(ctx context.Context, names []string) error {
	for {
		missing, changed := m.missingChannels(names)
		if len(missing) == 0 {
			return nil
		}
		m.log.Info("coupling stalled, waiting for channels", "channels", missing)
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func declaredChannels(cs []*container.Container) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Descriptor().Channels...)
	}
	return out
}

// discard tears down the containers of a failed job.
func (m *Manager) discard(cs []*container.Container) {
	for _, c := range cs {
		m.decouple(c.Item().InstanceID)
		if err := c.Remove(); err != nil && !errors.Is(err, container.ErrRemoved) {
			m.log.Debug("discard container", "instance", c.Item().InstanceID, "error", err)
		}
	}
}

// DetachEndpoints unsubscribes the items from every channel so that no
// further channel input reaches them. Channels left without endpoints are
// removed and returned.
func (m *Manager) DetachEndpoints(items []ir.ComponentItem) []string {
	var orphans []string
	for _, item := range items {
		orphans = append(orphans, m.decouple(item.InstanceID)...)
	}
	if len(orphans) > 0 {
		m.log.Info("orphan channels removed", "channels", orphans)
	}
	return orphans
}

// RemoveBatch detaches and removes visible containers. Channels left
// without endpoints are deleted. Every item is attempted; the errors are
// joined.
func (m *Manager) RemoveBatch(ctx context.Context, items []ir.ComponentItem) error {
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		c, err := m.rt.Lookup(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.DetachEndpoints([]ir.ComponentItem{item})
		if err := c.Remove(); err != nil {
			errs = append(errs, err)
		}
		m.rt.Detach(item.InstanceID)
	}
	return errors.Join(errs...)
}
