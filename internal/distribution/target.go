package distribution

import (
	"context"
	"fmt"
	"slices"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/manager"
)

// Executability decides for every incoming component whether this runtime
// can host it. The map is keyed by component id; a component id is false
// when any of its incoming instances cannot be hosted.
func (c *Coordinator) Executability(items []ir.ComponentItem, states map[string]ir.MigratedState) map[string]bool {
	exec := make(map[string]bool, len(items))
	for _, item := range items {
		ok := c.executable(item, states)
		if prev, seen := exec[item.ComponentID]; seen {
			ok = ok && prev
		}
		exec[item.ComponentID] = ok
	}
	return exec
}

func (c *Coordinator) executable(item ir.ComponentItem, states map[string]ir.MigratedState) bool {
	desc, ok := c.rt.Descriptor(item.ComponentID)
	if !ok || !desc.Migratable {
		return false
	}
	if _, visible := c.rt.Container(item.InstanceID); visible {
		return false
	}
	st, ok := states[item.InstanceID]
	return ok && st.Item == item
}

// prepareTarget checks executability, then integrates every incoming
// component from its migrated state. The answer is
// ALL_COMPONENTS_EXECUTABLE only after every injection has completed.
func (c *Coordinator) prepareTarget(ctx context.Context, req ir.PrepareRequest, items []ir.ComponentItem) ir.PrepareResponse {
	resp := ir.PrepareResponse{TransactionID: req.TransactionID}
	states := make(map[string]ir.MigratedState, len(req.States))
	for _, st := range req.States {
		states[st.Item.InstanceID] = st
	}

	resp.ExecMap = c.Executability(items, states)
	executable := 0
	for _, ok := range resp.ExecMap {
		if ok {
			executable++
		}
	}
	if executable < len(resp.ExecMap) {
		resp.Code = ir.NotAllComponentsExecutable
		if executable == 0 {
			resp.Code = ir.NoComponentExecutable
		}
		resp.Error = "not all components executable"
		for _, item := range items {
			if !c.executable(item, states) {
				resp.Failed = append(resp.Failed, ir.ComponentFailure{Item: item, Reason: "not executable on runtime " + c.rt.ID()})
			}
		}
		return resp
	}

	batch := manager.Batch{States: make(map[string]ir.MigratedState, len(items))}
	for _, item := range items {
		batch.Items = append(batch.Items, manager.BatchItem{Item: item})
		batch.States[item.InstanceID] = states[item.InstanceID]
	}
	c.rt.History().SaveCheckpoints(context.WithoutCancel(ctx), req.TransactionID, req.States)

	job, err := c.mgr.IntegrateBatch(ctx, batch)
	if err != nil {
		resp.Code = ir.NotAllComponentsExecutable
		resp.Error = err.Error()
		resp.Failed = integrationFailures(items, job, err)
		return resp
	}
	for id, report := range job.Reports() {
		for _, r := range report.Rejected {
			c.log.Warn("property not restored", "transaction", req.TransactionID, "instance", id, "property", r.Name, "error", r.Err)
		}
	}
	resp.Code = ir.AllComponentsExecutable
	return resp
}

func integrationFailures(items []ir.ComponentItem, job *manager.IntegrationJob, err error) []ir.ComponentFailure {
	var failures map[string]error
	if job != nil {
		failures = job.Failures()
	}
	var out []ir.ComponentFailure
	for _, item := range items {
		if ferr, ok := failures[item.InstanceID]; ok {
			out = append(out, ir.ComponentFailure{Item: item, Reason: ferr.Error()})
		}
	}
	if len(out) == 0 {
		for _, item := range items {
			out = append(out, ir.ComponentFailure{Item: item, Reason: err.Error()})
		}
	}
	return out
}

// commitTarget resumes every recovered container with the downstream
// events forwarded from the source, in their original order.
func (c *Coordinator) commitTarget(tx ir.Transaction, downstream []ir.MigratedEvents) []ir.ComponentFailure {
	forwarded := make(map[string][]ir.BufferedEvent, len(downstream))
	for _, md := range downstream {
		if !slices.Contains(tx.Items, md.Item) {
			c.log.Warn("downstream events for unknown component dropped", "transaction", tx.ID, "instance", md.Item.InstanceID, "count", len(md.Events))
			continue
		}
		forwarded[md.Item.InstanceID] = append(forwarded[md.Item.InstanceID], md.Events...)
	}

	var failed []ir.ComponentFailure
	for _, item := range tx.Items {
		ctr, err := c.rt.Lookup(item)
		if err != nil {
			failed = append(failed, ir.ComponentFailure{Item: item, Reason: err.Error()})
			continue
		}
		if err := ctr.Resume(forwarded[item.InstanceID]); err != nil {
			failed = append(failed, ir.ComponentFailure{Item: item, Reason: fmt.Sprintf("resume: %v", err)})
		}
	}
	return failed
}

// cancelTarget removes every container integrated during prepare.
// Components that never became visible are skipped.
func (c *Coordinator) cancelTarget(ctx context.Context, tx ir.Transaction) []ir.ComponentFailure {
	var present []ir.ComponentItem
	for _, item := range tx.Items {
		if _, err := c.rt.Lookup(item); err == nil {
			present = append(present, item)
		}
	}
	var failed []ir.ComponentFailure
	for _, item := range present {
		if err := c.mgr.RemoveBatch(ctx, []ir.ComponentItem{item}); err != nil {
			failed = append(failed, ir.ComponentFailure{Item: item, Reason: err.Error()})
		}
	}
	return failed
}
