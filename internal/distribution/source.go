package distribution

import (
	"context"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// prepareSource prepares every outgoing container concurrently. The
// answer is ALL_COMPONENTS_READY only if every one of them is ready;
// otherwise the failing components are named and nothing is removed.
// Containers that did get ready stay BLOCKED until commit or cancel.
func (c *Coordinator) prepareSource(ctx context.Context, req ir.PrepareRequest, items []ir.ComponentItem) ir.PrepareResponse {
	resp := ir.PrepareResponse{TransactionID: req.TransactionID}
	states := make([]ir.MigratedState, len(items))
	failures := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		ctr, err := c.rt.Lookup(item)
		if err != nil {
			failures[i] = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i], failures[i] = ctr.PrepareMigration(ctx, req.TransactionID)
		}()
	}
	wg.Wait()

	for i, err := range failures {
		if err != nil {
			resp.Failed = append(resp.Failed, ir.ComponentFailure{Item: items[i], Reason: err.Error()})
		}
	}
	if len(resp.Failed) > 0 {
		resp.Code = ir.NotAllComponentsReady
		resp.Error = "not all components ready"
		c.log.Warn("source prepare incomplete", "transaction", req.TransactionID, "failed", len(resp.Failed), "of", len(items))
		return resp
	}

	resp.Code = ir.AllComponentsReady
	resp.States = states
	c.rt.History().SaveCheckpoints(context.WithoutCancel(ctx), req.TransactionID, states)
	return resp
}

// commitSource checks that every container is still BLOCKED by this
// transaction, detaches them from their channels, drains their downstream
// events and removes them with their orphaned channels. If any container
// fails the check nothing is drained or removed. The events are returned
// for forwarding to the target.
func (c *Coordinator) commitSource(ctx context.Context, tx ir.Transaction) ([]ir.MigratedEvents, []ir.ComponentFailure) {
	var failed []ir.ComponentFailure
	ctrs := make([]*container.Container, 0, len(tx.Items))
	for _, item := range tx.Items {
		ctr, err := c.rt.Lookup(item)
		if err == nil {
			err = ctr.CheckOwner(tx.ID)
		}
		if err != nil {
			failed = append(failed, ir.ComponentFailure{Item: item, Reason: err.Error()})
			continue
		}
		ctrs = append(ctrs, ctr)
	}
	if len(failed) > 0 {
		return nil, failed
	}

	// No channel input may arrive between draining and removal.
	c.mgr.DetachEndpoints(tx.Items)

	downstream := make([]ir.MigratedEvents, 0, len(ctrs))
	for _, ctr := range ctrs {
		events, err := ctr.DrainDownstream(tx.ID)
		if err != nil {
			// Removal below discards whatever the container still buffers.
			c.log.Error("source commit drain", "transaction", tx.ID, "instance", ctr.Item().InstanceID, "error", err)
			failed = append(failed, ir.ComponentFailure{Item: ctr.Item(), Reason: err.Error()})
			continue
		}
		downstream = append(downstream, ir.MigratedEvents{Item: ctr.Item(), Events: events})
	}
	if err := c.mgr.RemoveBatch(ctx, tx.Items); err != nil {
		// Containers are gone from the runtime even if disposal complained.
		c.log.Warn("source commit removal", "transaction", tx.ID, "error", err)
	}
	if len(failed) > 0 {
		return nil, failed
	}
	return downstream, nil
}

// cancelSource reverts every container this transaction holds BLOCKED.
// Containers whose prepare failed were unblocked then, and containers held
// by another transaction are not this one's to cancel; both are skipped.
// A failed cancel leaves the container BLOCKED.
func (c *Coordinator) cancelSource(ctx context.Context, tx ir.Transaction) []ir.ComponentFailure {
	var failed []ir.ComponentFailure
	for _, item := range tx.Items {
		ctr, err := c.rt.Lookup(item)
		if err != nil {
			continue
		}
		if owner := ctr.Owner(); owner != tx.ID {
			if owner != "" {
				c.log.Debug("cancel skips container held by another transaction", "transaction", tx.ID, "instance", item.InstanceID, "owner", owner)
			}
			continue
		}
		if err := ctr.CancelMigration(ctx, tx.ID); err != nil {
			failed = append(failed, ir.ComponentFailure{Item: item, Reason: err.Error()})
		}
	}
	return failed
}
