// Package orchestrator drives one source and one target runtime through a
// migration transaction: prepare both, then commit both, or cancel
// whatever was prepared.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Peer is a runtime the orchestrator talks to. Implemented by LocalPeer
// and api.Client.
type Peer interface {
	ID() string
	Prepare(ctx context.Context, req ir.PrepareRequest) (ir.PrepareResponse, error)
	Commit(ctx context.Context, req ir.CommitRequest) (ir.CommitResponse, error)
	Cancel(ctx context.Context, req ir.CancelRequest) (ir.CancelResponse, error)
}

// LocalPeer is a runtime in the same process, reached through its engine.
type LocalPeer struct {
	*engine.Engine
	id string
}

// NewLocalPeer wraps the engine of runtime id.
func NewLocalPeer(id string, e *engine.Engine) *LocalPeer {
	return &LocalPeer{Engine: e, id: id}
}

// ID returns the runtime id.
func (p *LocalPeer) ID() string { return p.id }

// Outcome is the final result of a migration attempt.
type Outcome string

const (
	// OutcomeCommitted: both runtimes committed.
	OutcomeCommitted Outcome = "committed"
	// OutcomeAborted: a prepare vote was negative and everything prepared
	// was cancelled.
	OutcomeAborted Outcome = "aborted"
	// OutcomeCancelled: the caller gave up during prepare.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed: a commit or cancel failed; manual intervention may be
	// needed.
	OutcomeFailed Outcome = "failed"
)

// Step records one protocol exchange.
type Step struct {
	Runtime string        `json:"runtime" yaml:"runtime"`
	Action  string        `json:"action" yaml:"action"`
	Role    ir.Role       `json:"role" yaml:"role"`
	Code    ir.StatusCode `json:"code" yaml:"code"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes a migration attempt.
type Report struct {
	MigrationID   string                `json:"migration_id"`
	TransactionID string                `json:"transaction_id"`
	Outcome       Outcome               `json:"outcome"`
	ExecMap       map[string]bool       `json:"execmap,omitempty"`
	Failed        []ir.ComponentFailure `json:"failed,omitempty"`
	Steps         []Step                `json:"steps"`
}

func (r *Report) record(p Peer, action string, role ir.Role, code ir.StatusCode, errMsg string, err error) {
	s := Step{Runtime: p.ID(), Action: action, Role: role, Code: code, Error: errMsg}
	if err != nil {
		s.Error = err.Error()
	}
	r.Steps = append(r.Steps, s)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithIDGenerator sets the transaction id generator.
// Default: container.UUIDv7Generator.
func WithIDGenerator(g container.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// Orchestrator runs migrations between pairs of runtimes.
type Orchestrator struct {
	ids container.IDGenerator
	log *slog.Logger
}

// New creates an orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{ids: container.UUIDv7Generator{}, log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Migrate runs one transaction moving the components of mig from source to
// target.
//
// The source prepares first; its states are handed to the target's
// prepare. Only when both vote ready are the runtimes committed, source
// first so its downstream events can be forwarded. A negative vote cancels
// every runtime that was asked to prepare. If ctx ends during prepare the
// prepared runtimes are cancelled on behalf of the user.
//
// The returned error is non-nil only when the migration is invalid; every
// protocol outcome is described by the report.
func (o *Orchestrator) Migrate(ctx context.Context, mig ir.Migration, source, target Peer) (Report, error) {
	if err := mig.Validate(); err != nil {
		return Report{}, err
	}
	rep := Report{MigrationID: mig.ID, TransactionID: o.ids.Generate()}
	log := o.log.With("migration", mig.ID, "transaction", rep.TransactionID)
	log.Info("migration started", "source", source.ID(), "target", target.ID())

	sp, err := source.Prepare(ctx, ir.PrepareRequest{TransactionID: rep.TransactionID, Role: ir.RoleSource, Migration: mig})
	rep.record(source, "prepare", ir.RoleSource, sp.Code, sp.Error, err)
	if err != nil || sp.Code != ir.AllComponentsReady {
		rep.Failed = append(rep.Failed, sp.Failed...)
		o.abort(ctx, &rep, err, source)
		log.Info("migration ended", "outcome", rep.Outcome)
		return rep, nil
	}

	tp, err := target.Prepare(ctx, ir.PrepareRequest{
		TransactionID: rep.TransactionID,
		Role:          ir.RoleTarget,
		Migration:     mig,
		States:        sp.States,
	})
	rep.record(target, "prepare", ir.RoleTarget, tp.Code, tp.Error, err)
	rep.ExecMap = tp.ExecMap
	if err != nil || tp.Code != ir.AllComponentsExecutable {
		rep.Failed = append(rep.Failed, tp.Failed...)
		o.abort(ctx, &rep, err, target, source)
		log.Info("migration ended", "outcome", rep.Outcome)
		return rep, nil
	}

	// Past this point the decision is commit; the caller's ctx no longer
	// applies.
	cctx := context.WithoutCancel(ctx)
	sc, err := source.Commit(cctx, ir.CommitRequest{TransactionID: rep.TransactionID, MigrationID: mig.ID, Role: ir.RoleSource})
	rep.record(source, "commit", ir.RoleSource, sc.Code, sc.Error, err)
	if err != nil || sc.Code != ir.Committed {
		rep.Failed = append(rep.Failed, sc.Failed...)
		rep.Outcome = OutcomeFailed
		o.cancel(cctx, &rep, target, false)
		log.Error("source commit failed", "error", errors.Join(err, errorf(sc.Error)))
		return rep, nil
	}

	tc, err := target.Commit(cctx, ir.CommitRequest{
		TransactionID: rep.TransactionID,
		MigrationID:   mig.ID,
		Role:          ir.RoleTarget,
		Downstream:    sc.Downstream,
	})
	rep.record(target, "commit", ir.RoleTarget, tc.Code, tc.Error, err)
	if err != nil || tc.Code != ir.Committed {
		rep.Failed = append(rep.Failed, tc.Failed...)
		rep.Outcome = OutcomeFailed
		log.Error("target commit failed", "error", errors.Join(err, errorf(tc.Error)))
		return rep, nil
	}

	rep.Outcome = OutcomeCommitted
	log.Info("migration ended", "outcome", rep.Outcome)
	return rep, nil
}

// abort cancels every peer asked to prepare, most recent first.
func (o *Orchestrator) abort(ctx context.Context, rep *Report, cause error, peers ...Peer) {
	byUser := ctx.Err() != nil
	rep.Outcome = OutcomeAborted
	if byUser {
		rep.Outcome = OutcomeCancelled
	}
	if cause != nil && !byUser {
		o.log.Warn("prepare request failed", "transaction", rep.TransactionID, "error", cause)
	}
	cctx := context.WithoutCancel(ctx)
	for _, p := range peers {
		if !o.cancel(cctx, rep, p, byUser) {
			rep.Outcome = OutcomeFailed
		}
	}
}

func (o *Orchestrator) cancel(ctx context.Context, rep *Report, p Peer, byUser bool) bool {
	role := ir.RoleSource
	for _, s := range rep.Steps {
		if s.Runtime == p.ID() && s.Action == "prepare" {
			role = s.Role
		}
	}
	resp, err := p.Cancel(ctx, ir.CancelRequest{TransactionID: rep.TransactionID, Role: role, ByUser: byUser})
	rep.record(p, "cancel", role, resp.Code, resp.Error, err)
	if err != nil {
		o.log.Error("cancel request failed", "runtime", p.ID(), "error", err)
		return false
	}
	switch resp.Code {
	case ir.Cancelled, ir.MigrationCancelledByUser:
		return true
	case ir.ProtocolError:
		if len(resp.Failed) == 0 {
			// The peer never recorded the transaction, nothing to undo.
			return true
		}
	}
	rep.Failed = append(rep.Failed, resp.Failed...)
	return false
}

func errorf(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
