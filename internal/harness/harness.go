package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/compiler"
	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/container/containertest"
	"github.com/TomKopp/KP-WME-sub000/internal/distribution"
	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/manager"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
	"github.com/TomKopp/KP-WME-sub000/internal/orchestrator"
	"github.com/TomKopp/KP-WME-sub000/internal/store"
	"github.com/TomKopp/KP-WME-sub000/internal/testutil"
)

// Timeouts applied to every scenario runtime. Scenarios override the
// transaction timeout.
const (
	defaultTransactionTimeout = 2 * time.Second
	integrationTimeout        = 2 * time.Second
	initTimeout               = time.Second
	prepareTimeout            = 250 * time.Millisecond
)

// Option configures a scenario run.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger handed to every runtime. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Run executes a scenario and returns the result.
//
// Each runtime gets a fresh in-memory database. Transaction ids come from
// a sequence generator, so the first transaction is always "tx-1".
//
// The returned error is non-nil when the scenario could not be set up or
// the migration was rejected as invalid. Assertion failures are reported
// in the result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	o := options{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	descs, err := scenarioDescriptors(s)
	if err != nil {
		return nil, err
	}
	timeout := defaultTransactionTimeout
	if s.TransactionTimeout != "" {
		if timeout, err = time.ParseDuration(s.TransactionTimeout); err != nil {
			return nil, fmt.Errorf("transaction_timeout: %w", err)
		}
	}

	w := &world{log: o.log, clock: testutil.NewDeterministicClock(0), runtimes: make(map[string]*runtimeHarness)}
	defer w.close()
	for _, spec := range s.Runtimes {
		rh, err := w.start(ctx, spec, descs, timeout)
		if err != nil {
			return nil, fmt.Errorf("runtime %s: %w", spec.ID, err)
		}
		if err := rh.setup(ctx); err != nil {
			return nil, fmt.Errorf("runtime %s: %w", spec.ID, err)
		}
	}
	for _, id := range w.order {
		if err := w.runtimes[id].publish(WhenSetup); err != nil {
			return nil, fmt.Errorf("runtime %s: %w", id, err)
		}
	}

	mig, err := s.Migration.Build()
	if err != nil {
		return nil, err
	}
	source := &hookPeer{LocalPeer: w.runtimes[s.Migration.Source].peer, onReady: func() {
		for _, id := range w.order {
			if err := w.runtimes[id].publish(WhenPrepared); err != nil {
				w.hookErrs = append(w.hookErrs, fmt.Errorf("runtime %s: %w", id, err))
			}
		}
	}}
	target := w.runtimes[s.Migration.Target].peer

	migCtx := ctx
	if s.Deadline != "" {
		d, err := time.ParseDuration(s.Deadline)
		if err != nil {
			return nil, fmt.Errorf("deadline: %w", err)
		}
		var cancel context.CancelFunc
		migCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	orch := orchestrator.New(
		orchestrator.WithLogger(o.log),
		orchestrator.WithIDGenerator(testutil.NewSequenceGenerator("tx")),
	)
	report, err := orch.Migrate(migCtx, mig, source, target)
	if err != nil {
		return nil, fmt.Errorf("migration: %w", err)
	}
	if err := errors.Join(w.hookErrs...); err != nil {
		return nil, err
	}

	result := NewResult()
	result.Report = report
	result.Requests = w.clock.Current()
	if err := w.trace(ctx, result); err != nil {
		return nil, err
	}
	w.evaluate(s.Assertions, result)
	return result, nil
}

// world holds the runtimes of one scenario run.
type world struct {
	log      *slog.Logger
	clock    *testutil.DeterministicClock // stamps requests of every runtime
	order    []string
	runtimes map[string]*runtimeHarness
	hookErrs []error
}

// runtimeHarness is one assembled runtime.
type runtimeHarness struct {
	spec    RuntimeSpec
	store   *store.Store
	rt      *node.RuntimeContext
	mgr     *manager.Manager
	factory *containertest.Factory
	peer    *orchestrator.LocalPeer
	stop    context.CancelFunc
	done    chan struct{}
}

func (w *world) start(ctx context.Context, spec RuntimeSpec, descs []ir.Descriptor, timeout time.Duration) (*runtimeHarness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}
	log := w.log.With("runtime", spec.ID)
	rt := node.New(spec.ID, node.WithLogger(log), node.WithJournal(st))

	known := descs
	if len(spec.Descriptors) > 0 {
		known = nil
		byID := make(map[string]ir.Descriptor, len(descs))
		for _, d := range descs {
			byID[d.ComponentID] = d
		}
		for _, id := range spec.Descriptors {
			d, ok := byID[id]
			if !ok {
				st.Close()
				return nil, fmt.Errorf("unknown descriptor %q", id)
			}
			known = append(known, d)
		}
	}
	for _, d := range known {
		if err := rt.RegisterDescriptor(d); err != nil {
			st.Close()
			return nil, err
		}
	}

	factory := scriptedFactory(spec.Scripts)
	mgr := manager.New(rt, factory,
		manager.WithLogger(log),
		manager.WithIDGenerator(testutil.NewSequenceGenerator(spec.ID+"-ev")),
		manager.WithIntegrationTimeout(integrationTimeout),
		manager.WithContainerOptions(
			container.WithInitTimeout(initTimeout),
			container.WithPrepareTimeout(prepareTimeout),
		),
	)
	eng := engine.New(
		distribution.New(mgr, distribution.WithLogger(log), distribution.WithTransactionTimeout(timeout)),
		engine.WithLogger(log),
		engine.WithClock(w.clock),
	)

	engCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	rh := &runtimeHarness{
		spec:    spec,
		store:   st,
		rt:      rt,
		mgr:     mgr,
		factory: factory,
		peer:    orchestrator.NewLocalPeer(spec.ID, eng),
		stop:    stop,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(rh.done)
		_ = eng.Run(engCtx)
	}()
	w.order = append(w.order, spec.ID)
	w.runtimes[spec.ID] = rh
	return rh, nil
}

func (w *world) close() {
	for _, id := range w.order {
		rh := w.runtimes[id]
		rh.stop()
		<-rh.done
		rh.store.Close()
	}
}

// setup registers the runtime's channels and integrates its components.
func (rh *runtimeHarness) setup(ctx context.Context) error {
	for _, ch := range rh.spec.Channels {
		if err := rh.mgr.RegisterChannel(manager.ChannelSpec{Name: ch.Name, Operation: ch.Operation}); err != nil {
			return err
		}
	}
	if len(rh.spec.Components) == 0 {
		return nil
	}
	var batch manager.Batch
	for _, c := range rh.spec.Components {
		config, err := ir.ObjectFromGo(c.Properties)
		if err != nil {
			return fmt.Errorf("component %s: %w", c.Instance, err)
		}
		batch.Items = append(batch.Items, manager.BatchItem{
			Item:   ir.ComponentItem{ComponentID: c.Component, InstanceID: c.Instance},
			Config: config,
		})
	}
	_, err := rh.mgr.IntegrateBatch(ctx, batch)
	return err
}

// publish sends the runtime's events of one phase.
func (rh *runtimeHarness) publish(when string) error {
	for _, ev := range rh.spec.Events {
		phase := ev.When
		if phase == "" {
			phase = WhenSetup
		}
		if phase != when {
			continue
		}
		c, ok := rh.rt.Container(ev.From)
		if !ok {
			return fmt.Errorf("event from %s: %w", ev.From, node.ErrUnknownInstance)
		}
		payload, err := ir.ObjectFromGo(ev.Payload)
		if err != nil {
			return fmt.Errorf("event from %s: %w", ev.From, err)
		}
		if err := rh.mgr.Publish(c.Item(), ev.Channel, payload); err != nil {
			return fmt.Errorf("event from %s: %w", ev.From, err)
		}
	}
	return nil
}

// hookPeer runs onReady once the source voted ready, before the target is
// asked to prepare.
type hookPeer struct {
	*orchestrator.LocalPeer
	onReady func()
}

func (p *hookPeer) Prepare(ctx context.Context, req ir.PrepareRequest) (ir.PrepareResponse, error) {
	resp, err := p.LocalPeer.Prepare(ctx, req)
	if err == nil && resp.Code == ir.AllComponentsReady {
		p.onReady()
	}
	return resp, err
}

func scriptedFactory(scripts map[string]ScriptSpec) *containertest.Factory {
	factory := containertest.NewFactory()
	factory.Fail = make(map[string]error)
	for id, sc := range scripts {
		if sc.InstantiateError != "" {
			factory.Fail[id] = errors.New(sc.InstantiateError)
		}
	}
	factory.Setup = func(item ir.ComponentItem, f *containertest.Component, m *containertest.MigratableComponent) {
		sc, ok := scripts[item.InstanceID]
		if !ok {
			return
		}
		if sc.Hold {
			f.AutoProcess = false
		}
		if len(sc.SetErrors) > 0 {
			f.SetErr = make(map[string]error, len(sc.SetErrors))
			for name, msg := range sc.SetErrors {
				f.SetErr[name] = errors.New(msg)
			}
		}
		if m == nil {
			return
		}
		switch sc.Prepare {
		case PrepareNotReady:
			m.Reply = containertest.ReplyNotReady
		case PrepareSilent:
			m.Reply = containertest.ReplySilent
		case PrepareError:
			m.Reply = containertest.ReplyError
		}
		if sc.UnprepareError != "" {
			m.UnprepareErr = errors.New(sc.UnprepareError)
		}
	}
	return factory
}

// scenarioDescriptors compiles the scenario's CUE specs and inline
// descriptors.
func scenarioDescriptors(s *Scenario) ([]ir.Descriptor, error) {
	var descs []ir.Descriptor
	if len(s.Specs) > 0 {
		loaded, errs := compiler.LoadDescriptors(s.Specs...)
		if len(errs) > 0 {
			return nil, fmt.Errorf("loading specs: %w", errors.Join(errs...))
		}
		descs = loaded
	}
	for _, ds := range s.Descriptors {
		d, err := ds.toIR()
		if err != nil {
			return nil, err
		}
		if verrs := compiler.Validate(d); len(verrs) > 0 {
			errs := make([]error, len(verrs))
			for i, ve := range verrs {
				errs[i] = ve
			}
			return nil, fmt.Errorf("descriptor %s: %w", ds.ID, errors.Join(errs...))
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (ds DescriptorSpec) toIR() (ir.Descriptor, error) {
	d := ir.Descriptor{
		ComponentID: ds.ID,
		Name:        ds.Name,
		UI:          ds.UI,
		Migratable:  ds.Migratable,
		Channels:    ds.Channels,
		Operations:  ds.Operations,
	}
	if d.Name == "" {
		d.Name = ds.ID
	}
	for _, p := range ds.Properties {
		decl := ir.PropertyDecl{Name: p.Name, Type: p.Type}
		if p.Default != nil {
			v, err := ir.FromGo(p.Default)
			if err != nil {
				return ir.Descriptor{}, fmt.Errorf("descriptor %s: property %s: %w", ds.ID, p.Name, err)
			}
			decl.Default = v
		}
		d.Properties = append(d.Properties, decl)
	}
	return d, nil
}

// Build converts the scenario migration into a validated ir.Migration.
func (m MigrationSpec) Build() (ir.Migration, error) {
	mig := ir.Migration{ID: m.ID}
	for _, mod := range m.Modifications {
		dm := ir.DistributionModification{
			ID:              mod.ID,
			TargetRuntimeID: mod.Target,
			Type:            ir.ModificationType(mod.Type),
		}
		for _, c := range mod.Components {
			dm.Components = append(dm.Components, ir.ComponentItem{ComponentID: c.Component, InstanceID: c.Instance})
		}
		mig.Modifications = append(mig.Modifications, dm)
	}
	if err := mig.Validate(); err != nil {
		return ir.Migration{}, fmt.Errorf("migration: %w", err)
	}
	return mig, nil
}

// trace fills the result's trace and journaled transactions.
func (w *world) trace(ctx context.Context, result *Result) error {
	for _, s := range result.Report.Steps {
		result.Trace = append(result.Trace, TraceEvent{
			Kind:    KindStep,
			Runtime: s.Runtime,
			Action:  s.Action,
			Role:    string(s.Role),
			Code:    s.Code.String(),
		})
	}

	for _, id := range w.order {
		rh := w.runtimes[id]
		txs, err := rh.store.ListTransactions(ctx)
		if err != nil {
			return fmt.Errorf("runtime %s: %w", id, err)
		}
		result.Transactions[id] = txs
		for _, tx := range txs {
			trs, err := rh.store.ReadTransitions(ctx, tx.ID)
			if err != nil {
				return fmt.Errorf("runtime %s: %w", id, err)
			}
			for _, tr := range trs {
				result.Trace = append(result.Trace, TraceEvent{
					Kind:          KindTransition,
					Runtime:       id,
					TransactionID: tr.TransactionID,
					From:          string(tr.From),
					To:            string(tr.To),
					Seq:           tr.Seq,
				})
			}
		}

		notes := rh.rt.Notifier().Recent()
		// Integration failures are notified concurrently.
		sort.SliceStable(notes, func(i, j int) bool {
			if notes[i].InstanceID != notes[j].InstanceID {
				return notes[i].InstanceID < notes[j].InstanceID
			}
			return notes[i].Message < notes[j].Message
		})
		for _, n := range notes {
			result.Trace = append(result.Trace, TraceEvent{
				Kind:     KindNotification,
				Runtime:  id,
				Level:    string(n.Level),
				Instance: n.InstanceID,
				Message:  n.Message,
			})
		}

		for _, c := range rh.rt.Containers() {
			result.Trace = append(result.Trace, TraceEvent{
				Kind:     KindContainer,
				Runtime:  id,
				Instance: c.Item().InstanceID,
				State:    string(c.State()),
			})
		}
	}
	return nil
}
