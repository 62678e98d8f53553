package container

import (
	"context"
	"fmt"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// PrepareMigration suspends the component and captures its state.
//
// Sequence: block, wait until no service request is outstanding, call the
// component's Prepare, then wait up to the prepare timeout for its blocked
// signal. With ready=true the container stays BLOCKED, owned by txID, and
// the checkpoint plus the activity events are returned. With ready=false,
// a failing Prepare, a timeout or a cancelled ctx, the container is
// unblocked and an error returned; Unprepare is not called in that case.
// A container already held by a transaction is rejected untouched.
func (c *Container) PrepareMigration(ctx context.Context, txID string) (ir.MigratedState, error) {
	if !c.transit.CompareAndSwap(false, true) {
		return ir.MigratedState{}, &AlreadyInTransitionError{Item: c.item, Op: "prepare"}
	}
	defer c.transit.Store(false)

	if owner := c.Owner(); owner != "" {
		return ir.MigratedState{}, &AlreadyInTransitionError{Item: c.item, Op: "prepare", Owner: owner}
	}

	mig, ok := c.Instance().(Migratable)
	if !ok {
		return ir.MigratedState{}, fmt.Errorf("container %s: %w", c.item, ErrNotMigratable)
	}

	select {
	case <-c.blockedCh:
	default:
	}

	if err := c.Block(); err != nil {
		return ir.MigratedState{}, err
	}

	if n := c.requests.count(); n > 0 {
		c.log.Debug("waiting for outstanding requests", "count", n)
	}
	select {
	case <-c.requests.idle():
	case <-ctx.Done():
		c.abortPrepare()
		return ir.MigratedState{}, ctx.Err()
	}

	if err := mig.Prepare(); err != nil {
		c.abortPrepare()
		return ir.MigratedState{}, &NotReadyError{Item: c.item, Err: err}
	}

	timer := time.NewTimer(c.prepareTimeout)
	defer timer.Stop()

	select {
	case ready := <-c.blockedCh:
		if !ready {
			c.abortPrepare()
			return ir.MigratedState{}, &NotReadyError{Item: c.item}
		}
	case <-timer.C:
		c.log.Warn("component did not answer prepare", "timeout", c.prepareTimeout)
		c.abortPrepare()
		return ir.MigratedState{}, &TimeoutError{Item: c.item, Op: "prepare", Timeout: c.prepareTimeout}
	case <-ctx.Done():
		c.abortPrepare()
		return ir.MigratedState{}, ctx.Err()
	}

	cp, err := c.Checkpoint()
	if err != nil {
		c.abortPrepare()
		return ir.MigratedState{}, &NotReadyError{Item: c.item, Err: err}
	}
	digest, err := ir.CheckpointDigest(cp)
	if err != nil {
		c.abortPrepare()
		return ir.MigratedState{}, &NotReadyError{Item: c.item, Err: err}
	}

	c.mu.Lock()
	c.owner = txID
	c.mu.Unlock()

	return ir.MigratedState{
		Item:       c.item,
		Checkpoint: cp,
		Digest:     digest,
		Events:     c.buffer.Activity(),
	}, nil
}

func (c *Container) abortPrepare() {
	if err := c.Unblock(); err != nil {
		c.log.Warn("unblock after failed prepare", "error", err)
	}
}

// CancelMigration reverts a successful prepare. It is legal only while
// BLOCKED: the component's Unprepare is called, then the container becomes
// ACTIVE and replays its activity events followed by the downstream events
// that arrived while blocked, each group in arrival order. If Unprepare
// fails the container stays BLOCKED and owned. Only the owning transaction
// may cancel.
func (c *Container) CancelMigration(ctx context.Context, txID string) error {
	if !c.transit.CompareAndSwap(false, true) {
		return &AlreadyInTransitionError{Item: c.item, Op: "cancel"}
	}
	defer c.transit.Store(false)

	if err := c.checkOwner(txID, "cancel"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mig, ok := c.Instance().(Migratable)
	if !ok {
		return fmt.Errorf("container %s: %w", c.item, ErrNotMigratable)
	}
	if err := mig.Unprepare(); err != nil {
		return fmt.Errorf("container %s: unprepare: %w", c.item, err)
	}

	c.mu.Lock()
	if err := c.transitionLocked(StateActive); err != nil {
		c.mu.Unlock()
		return err
	}
	c.owner = ""
	replay := c.buffer.TakeAll()
	c.recoupleLocked(replay)
	c.mu.Unlock()

	mig.Enable()
	if c.desc.UI {
		c.presenter.HideBlocking(c.item)
	}
	c.log.Debug("migration cancelled, replaying events", "count", len(replay))
	c.dispatch()
	return nil
}

// CheckOwner reports whether the container is BLOCKED and held by txID,
// without changing anything.
func (c *Container) CheckOwner(txID string) error {
	return c.checkOwner(txID, "commit")
}

func (c *Container) checkOwner(txID, op string) error {
	if err := c.expect(StateBlocked); err != nil {
		return err
	}
	if owner := c.Owner(); owner != txID {
		return &AlreadyInTransitionError{Item: c.item, Op: op, Owner: owner}
	}
	return nil
}

// DrainDownstream removes and returns the events that arrived while the
// container was blocked, in arrival order. Legal only while BLOCKED and
// held by txID.
func (c *Container) DrainDownstream(txID string) ([]ir.BufferedEvent, error) {
	if err := c.checkOwner(txID, "drain"); err != nil {
		return nil, err
	}
	return c.buffer.TakeDownstream(), nil
}

// Recover injects a migrated state into a freshly initialized container on
// the target. The container moves to STATERECVRY, the checkpoint digest is
// verified, defaults are applied, then the checkpoint properties, then the
// carried activity events are handed to the component. Inputs stay
// decoupled until Resume.
//
// Injection is best effort: properties the component rejects are listed in
// the report and do not fail the recovery.
func (c *Container) Recover(ctx context.Context, state ir.MigratedState) (InjectionReport, error) {
	if err := c.expect(StateInitialized); err != nil {
		return InjectionReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return InjectionReport{}, err
	}
	if state.Digest != "" {
		actual, err := ir.CheckpointDigest(state.Checkpoint)
		if err != nil {
			return InjectionReport{}, fmt.Errorf("container %s: checkpoint digest: %w", c.item, err)
		}
		if actual != state.Digest {
			return InjectionReport{}, &DigestMismatchError{Item: c.item, Expected: state.Digest, Actual: actual}
		}
	}

	c.mu.Lock()
	if err := c.transitionLocked(StateRecovery); err != nil {
		c.mu.Unlock()
		return InjectionReport{}, err
	}
	c.mu.Unlock()

	report := c.inject(c.initialProperties())
	cpReport := c.inject(state.Checkpoint.Properties)
	report.Applied = append(report.Applied, cpReport.Applied...)
	report.Rejected = append(report.Rejected, cpReport.Rejected...)
	for _, r := range report.Rejected {
		c.log.Warn("property not injected", "property", r.Name, "error", r.Err)
	}

	c.mu.Lock()
	for _, ev := range state.Events {
		ev.Kind = ir.EventActivity
		if c.buffer.Append(ev) {
			c.pending = append(c.pending, ev)
		}
	}
	c.mu.Unlock()
	c.dispatch()

	return report, nil
}

// Resume activates a recovered container. The forwarded downstream events
// are delivered first, then the events buffered locally since recovery,
// and finally the inputs are coupled.
func (c *Container) Resume(downstream []ir.BufferedEvent) error {
	c.mu.Lock()
	if c.state == StateRemoved {
		c.mu.Unlock()
		return ErrRemoved
	}
	if c.state != StateRecovery {
		err := &IllegalTransitionError{Item: c.item, From: c.state, To: StateActive}
		c.mu.Unlock()
		return err
	}
	if err := c.transitionLocked(StateActive); err != nil {
		c.mu.Unlock()
		return err
	}
	c.recoupleLocked(downstream)
	inst := c.instance
	c.mu.Unlock()

	c.activate(inst)
	c.dispatch()
	return nil
}
