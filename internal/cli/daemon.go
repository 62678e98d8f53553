package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/TomKopp/KP-WME-sub000/internal/api"
	"github.com/TomKopp/KP-WME-sub000/internal/compiler"
	"github.com/TomKopp/KP-WME-sub000/internal/config"
	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/distribution"
	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/manager"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
	"github.com/TomKopp/KP-WME-sub000/internal/store"
)

// daemon is one fully wired runtime: journal, runtime context, component
// manager, coordinator, protocol engine and HTTP handler.
type daemon struct {
	cfg     config.Config
	store   *store.Store
	rt      *node.RuntimeContext
	mgr     *manager.Manager
	engine  *engine.Engine
	handler http.Handler
	log     *slog.Logger
}

// newDaemon assembles a runtime from cfg. Transactions a previous process
// left open are reported as interventions; the startup components are
// integrated before newDaemon returns.
func newDaemon(ctx context.Context, cfg config.Config, log *slog.Logger) (*daemon, error) {
	var descs []ir.Descriptor
	if len(cfg.Descriptors) > 0 {
		var errs []error
		descs, errs = compiler.LoadDescriptors(cfg.Descriptors...)
		if len(errs) > 0 {
			return nil, fmt.Errorf("load descriptors: %w", errors.Join(errs...))
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	d := &daemon{cfg: cfg, store: st, log: log}
	if err := d.assemble(ctx, descs); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) assemble(ctx context.Context, descs []ir.Descriptor) error {
	seq, err := d.store.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	d.rt = node.New(d.cfg.RuntimeID,
		node.WithLogger(d.log),
		node.WithJournal(d.store),
		node.WithHistorySeq(seq),
	)
	for _, desc := range descs {
		if err := d.rt.RegisterDescriptor(desc); err != nil {
			return err
		}
	}
	if err := d.reportIncomplete(ctx); err != nil {
		return err
	}

	d.mgr = manager.New(d.rt, container.HeadlessFactory,
		manager.WithLogger(d.log),
		manager.WithIntegrationTimeout(d.cfg.IntegrationTimeout),
		manager.WithContainerOptions(
			container.WithInitTimeout(d.cfg.InitTimeout),
			container.WithPrepareTimeout(d.cfg.PrepareTimeout),
		),
	)
	for _, ch := range d.cfg.Channels {
		if err := d.mgr.RegisterChannel(manager.ChannelSpec{Name: ch.Name, Operation: ch.Operation}); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}
	if err := d.integrateComponents(ctx); err != nil {
		return err
	}

	coord := distribution.New(d.mgr,
		distribution.WithLogger(d.log),
		distribution.WithTransactionTimeout(d.cfg.TransactionTimeout),
	)
	d.engine = engine.New(coord,
		engine.WithLogger(d.log),
		engine.WithClock(engine.NewClockAt(seq)),
	)
	d.handler = api.NewRouter(&api.Server{Runtime: d.rt, Engine: d.engine, Log: d.log})
	return nil
}

// reportIncomplete raises an intervention notification for every
// journaled transaction that never reached a terminal state. Components
// of such a transaction did not survive the restart.
func (d *daemon) reportIncomplete(ctx context.Context) error {
	open, err := d.store.Incomplete(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	for _, tx := range open {
		d.log.Warn("transaction left open by previous run", "transaction", tx.ID, "migration", tx.MigrationID, "state", tx.State)
		d.rt.Notify(ir.LevelIntervention, tx.ID, "",
			fmt.Sprintf("transaction %s of migration %s was interrupted in state %s, manual intervention required", tx.ID, tx.MigrationID, tx.State))
	}
	return nil
}

func (d *daemon) integrateComponents(ctx context.Context) error {
	if len(d.cfg.Components) == 0 {
		return nil
	}
	var batch manager.Batch
	for _, c := range d.cfg.Components {
		props, err := ir.ObjectFromGo(c.Properties)
		if err != nil {
			return fmt.Errorf("component %s: properties: %w", c.Instance, err)
		}
		batch.Items = append(batch.Items, manager.BatchItem{
			Item:   ir.ComponentItem{ComponentID: c.Component, InstanceID: c.Instance},
			Config: props,
		})
	}
	if _, err := d.mgr.IntegrateBatch(ctx, batch); err != nil {
		return fmt.Errorf("integrate startup components: %w", err)
	}
	d.log.Info("startup components integrated", "count", len(batch.Items))
	return nil
}

func (d *daemon) close() {
	if err := d.store.Close(); err != nil {
		d.log.Error("error closing journal", "error", err)
	}
}
