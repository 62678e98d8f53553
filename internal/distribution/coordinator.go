package distribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/manager"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
)

// DefaultTransactionTimeout bounds the PREPARING phase of a transaction.
const DefaultTransactionTimeout = 15 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: the runtime context's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithTransactionTimeout bounds the PREPARING phase.
// Default: DefaultTransactionTimeout.
func WithTransactionTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// Coordinator answers migration protocol requests for one runtime.
//
// Requests for one transaction must not overlap; the engine serializes
// them. Requests for different transactions touching disjoint containers
// are independent.
type Coordinator struct {
	rt      *node.RuntimeContext
	mgr     *manager.Manager
	timeout time.Duration
	log     *slog.Logger
}

// New creates the coordinator of the runtime the manager integrates into.
func New(mgr *manager.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		rt:      mgr.Runtime(),
		mgr:     mgr,
		timeout: DefaultTransactionTimeout,
		log:     mgr.Runtime().Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Runtime returns the runtime context the coordinator acts for.
func (c *Coordinator) Runtime() *node.RuntimeContext { return c.rt }

// Prepare runs the PREPARE phase in the requested role.
func (c *Coordinator) Prepare(ctx context.Context, req ir.PrepareRequest) ir.PrepareResponse {
	resp := ir.PrepareResponse{TransactionID: req.TransactionID}
	if err := validatePrepare(req); err != nil {
		return c.rejectPrepare(resp, err)
	}

	var items []ir.ComponentItem
	if req.Role == ir.RoleSource {
		items = SourceItems(req.Migration, c.rt.ID())
	} else {
		items = TargetItems(req.Migration, c.rt.ID())
	}
	if len(items) == 0 {
		return c.rejectPrepare(resp, protocolErrorf(req.TransactionID, "no component of migration %s concerns runtime %s in role %s", req.Migration.ID, c.rt.ID(), req.Role))
	}

	_, err := c.rt.History().Begin(context.WithoutCancel(ctx), ir.Transaction{
		ID:          req.TransactionID,
		MigrationID: req.Migration.ID,
		Role:        req.Role,
		State:       ir.TxPending,
		Items:       items,
	})
	if err != nil {
		return c.rejectPrepare(resp, protocolErrorf(req.TransactionID, "%v", err))
	}
	c.log.Info("prepare", "transaction", req.TransactionID, "session", req.SessionID, "role", req.Role, "components", len(items))
	if err := c.move(ctx, req.TransactionID, ir.TxPreparing, ""); err != nil {
		return c.rejectPrepare(resp, err)
	}

	deadline, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if req.Role == ir.RoleSource {
		resp = c.prepareSource(deadline, req, items)
	} else {
		resp = c.prepareTarget(deadline, req, items)
	}

	to := ir.TxNotReady
	if resp.Code.Ready() {
		to = ir.TxReady
	}
	if err := c.move(ctx, req.TransactionID, to, resp.Code.String()); err != nil {
		c.log.Error("prepare transition", "transaction", req.TransactionID, "error", err)
	}
	c.resolve(ctx, req.TransactionID, resp.Code, resp.Error)
	for _, f := range resp.Failed {
		c.rt.Notify(ir.LevelError, req.TransactionID, f.Item.InstanceID, "prepare failed: "+f.Reason)
	}
	return resp
}

// Commit runs the COMMIT phase of a READY transaction.
func (c *Coordinator) Commit(ctx context.Context, req ir.CommitRequest) ir.CommitResponse {
	resp := ir.CommitResponse{TransactionID: req.TransactionID}
	tx, err := c.lookup(req.TransactionID, req.Role)
	if err != nil {
		resp.Code, resp.Error = ir.ProtocolError, err.Error()
		return resp
	}
	if err := c.move(ctx, tx.ID, ir.TxCommitting, ""); err != nil {
		resp.Code, resp.Error = ir.ProtocolError, err.Error()
		return resp
	}
	c.log.Info("commit", "transaction", tx.ID, "role", tx.Role)

	if tx.Role == ir.RoleSource {
		resp.Downstream, resp.Failed = c.commitSource(ctx, tx)
	} else {
		resp.Failed = c.commitTarget(tx, req.Downstream)
	}

	if len(resp.Failed) > 0 {
		resp.Code = ir.ProtocolError
		resp.Error = "commit failed for some components"
		for _, f := range resp.Failed {
			c.rt.Notify(ir.LevelIntervention, tx.ID, f.Item.InstanceID, "commit failed: "+f.Reason)
		}
		c.finish(ctx, tx.ID, ir.TxFailed, resp.Code, resp.Error)
		return resp
	}
	resp.Code = ir.Committed
	c.finish(ctx, tx.ID, ir.TxDone, resp.Code, "")
	c.rt.Notify(ir.LevelInfo, tx.ID, "", "migration "+tx.MigrationID+" committed")
	return resp
}

// Cancel undoes a prepared transaction.
func (c *Coordinator) Cancel(ctx context.Context, req ir.CancelRequest) ir.CancelResponse {
	resp := ir.CancelResponse{TransactionID: req.TransactionID}
	tx, err := c.lookup(req.TransactionID, req.Role)
	if err != nil {
		resp.Code, resp.Error = ir.ProtocolError, err.Error()
		return resp
	}
	if err := c.move(ctx, tx.ID, ir.TxCancelling, ""); err != nil {
		resp.Code, resp.Error = ir.ProtocolError, err.Error()
		return resp
	}
	c.log.Info("cancel", "transaction", tx.ID, "role", tx.Role, "by_user", req.ByUser)

	if tx.Role == ir.RoleSource {
		resp.Failed = c.cancelSource(ctx, tx)
	} else {
		resp.Failed = c.cancelTarget(ctx, tx)
	}

	if len(resp.Failed) > 0 {
		resp.Code = ir.ProtocolError
		resp.Error = "cancel failed for some components"
		for _, f := range resp.Failed {
			c.rt.Notify(ir.LevelIntervention, tx.ID, f.Item.InstanceID, "cancel failed, manual intervention required: "+f.Reason)
		}
		c.finish(ctx, tx.ID, ir.TxFailed, resp.Code, resp.Error)
		return resp
	}
	resp.Code = ir.Cancelled
	if req.ByUser {
		resp.Code = ir.MigrationCancelledByUser
	}
	c.finish(ctx, tx.ID, ir.TxCancelled, resp.Code, "")
	return resp
}

func validatePrepare(req ir.PrepareRequest) error {
	if req.TransactionID == "" {
		return protocolErrorf("", "missing transaction id")
	}
	if !req.Role.Valid() {
		return protocolErrorf(req.TransactionID, "invalid role %q", req.Role)
	}
	if err := req.Migration.Validate(); err != nil {
		return protocolErrorf(req.TransactionID, "%v", err)
	}
	return nil
}

func (c *Coordinator) rejectPrepare(resp ir.PrepareResponse, err error) ir.PrepareResponse {
	c.log.Warn("prepare rejected", "transaction", resp.TransactionID, "error", err)
	resp.Code = ir.ProtocolError
	resp.Error = err.Error()
	return resp
}

// lookup finds a transaction that is open for commit or cancel in the
// given role.
func (c *Coordinator) lookup(id string, role ir.Role) (ir.Transaction, error) {
	if id == "" {
		return ir.Transaction{}, protocolErrorf("", "missing transaction id")
	}
	tx, ok := c.rt.History().Get(id)
	if !ok {
		return ir.Transaction{}, protocolErrorf(id, "unknown transaction")
	}
	if role != "" && tx.Role != role {
		return ir.Transaction{}, protocolErrorf(id, "transaction has role %s, request names %s", tx.Role, role)
	}
	if tx.State.Terminal() {
		return ir.Transaction{}, protocolErrorf(id, "transaction already %s", tx.State)
	}
	return tx, nil
}

func (c *Coordinator) finish(ctx context.Context, id string, to ir.TxState, code ir.StatusCode, errMsg string) {
	if err := c.move(ctx, id, to, code.String()); err != nil {
		c.log.Error("transaction transition", "transaction", id, "error", err)
	}
	c.resolve(ctx, id, code, errMsg)
}

func (c *Coordinator) resolve(ctx context.Context, id string, code ir.StatusCode, errMsg string) {
	if err := c.rt.History().Resolve(context.WithoutCancel(ctx), id, code, errMsg); err != nil {
		c.log.Error("transaction resolve", "transaction", id, "error", err)
	}
}

// SourceItems lists the components a runtime gives away in a migration:
// those added or created on another runtime and those removed from this
// one. Duplicates are dropped, first occurrence wins.
func SourceItems(m ir.Migration, runtimeID string) []ir.ComponentItem {
	return collect(m, func(mod ir.DistributionModification) bool {
		switch mod.Type {
		case ir.ModAdd, ir.ModCreate:
			return mod.TargetRuntimeID != runtimeID
		case ir.ModRemove:
			return mod.TargetRuntimeID == runtimeID
		}
		return false
	})
}

// TargetItems lists the components a runtime receives in a migration.
func TargetItems(m ir.Migration, runtimeID string) []ir.ComponentItem {
	return collect(m, func(mod ir.DistributionModification) bool {
		return (mod.Type == ir.ModAdd || mod.Type == ir.ModCreate) && mod.TargetRuntimeID == runtimeID
	})
}

func collect(m ir.Migration, keep func(ir.DistributionModification) bool) []ir.ComponentItem {
	var out []ir.ComponentItem
	seen := make(map[string]bool)
	for _, mod := range m.Modifications {
		if !keep(mod) {
			continue
		}
		for _, item := range mod.Components {
			if seen[item.InstanceID] {
				continue
			}
			seen[item.InstanceID] = true
			out = append(out, item)
		}
	}
	return out
}
