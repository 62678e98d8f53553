package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

var (
	// ErrNotMigratable is returned when preparing a component that does not
	// implement Migratable.
	ErrNotMigratable = errors.New("container: component is not migratable")

	// ErrRemoved is returned by operations on a removed container.
	ErrRemoved = errors.New("container: container removed")

	// ErrNoServiceAccess is returned by Context.Request when the runtime has
	// no service access configured.
	ErrNoServiceAccess = errors.New("container: no service access configured")

	// ErrUnknownRequest is returned by Respond for a request id the
	// container never issued or already answered.
	ErrUnknownRequest = errors.New("container: unknown service request")

	// ErrNoPublisher is returned by Context.Publish when the container is
	// not attached to a channel registry.
	ErrNoPublisher = errors.New("container: no publisher attached")

	// ErrUnknownLifecycleEvent is returned for lifecycle event names outside
	// the protocol.
	ErrUnknownLifecycleEvent = errors.New("container: unknown lifecycle event")
)

// IllegalTransitionError reports a state change outside the edge set.
type IllegalTransitionError struct {
	Item ir.ComponentItem
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("container %s: illegal transition %s -> %s", e.Item, e.From, e.To)
}

// ResourceError reports a failed resource load. It is local to one
// container; siblings in the same batch continue.
type ResourceError struct {
	Item ir.ComponentItem
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("container %s: load resources: %v", e.Item, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// InstantiationError is fatal for the container it names.
type InstantiationError struct {
	Item ir.ComponentItem
	Err  error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("container %s: instantiate: %v", e.Item, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// InitError reports a component whose Init call failed.
type InitError struct {
	Item ir.ComponentItem
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("container %s: init: %v", e.Item, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// PropertyError reports a property the component refused to set or read.
type PropertyError struct {
	Item ir.ComponentItem
	Name string
	Err  error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("container %s: property %q: %v", e.Item, e.Name, e.Err)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// DigestMismatchError rejects a checkpoint whose content does not match the
// digest computed on the source.
type DigestMismatchError struct {
	Item     ir.ComponentItem
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("container %s: checkpoint digest mismatch: expected %s, got %s", e.Item, e.Expected, e.Actual)
}

// TimeoutError is a definitive negative answer from a timer-bounded
// operation. It is never retried automatically.
type TimeoutError struct {
	Item    ir.ComponentItem
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("container %s: %s timed out after %s", e.Item, e.Op, e.Timeout)
}

// NotReadyError reports a component that answered prepare with ready=false
// or failed inside Prepare.
type NotReadyError struct {
	Item ir.ComponentItem
	Err  error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %s: not ready: %v", e.Item, e.Err)
	}
	return fmt.Sprintf("container %s: not ready", e.Item)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// AlreadyInTransitionError rejects a migration operation while another one
// owns the container.
//
// Owner is set when the container is held BLOCKED by a prepared
// transaction other than the caller's.
type AlreadyInTransitionError struct {
	Item  ir.ComponentItem
	Op    string
	Owner string
}

func (e *AlreadyInTransitionError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("container %s: %s rejected: held by transaction %s", e.Item, e.Op, e.Owner)
	}
	return fmt.Sprintf("container %s: %s rejected: migration operation already in progress", e.Item, e.Op)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var ne *NotReadyError
	return errors.As(err, &ne)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ie *IllegalTransitionError
	return errors.As(err, &ie)
}

// IsAlreadyInTransition reports whether err is an AlreadyInTransitionError.
func IsAlreadyInTransition(err error) bool {
	var ae *AlreadyInTransitionError
	return errors.As(err, &ae)
}

// IsInstantiation reports whether err is an InstantiationError.
func IsInstantiation(err error) bool {
	var ie *InstantiationError
	return errors.As(err, &ie)
}

// IsDigestMismatch reports whether err is a DigestMismatchError.
func IsDigestMismatch(err error) bool {
	var de *DigestMismatchError
	return errors.As(err, &de)
}
