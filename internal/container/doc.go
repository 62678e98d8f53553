// Package container implements the component container: the runtime-owned
// wrapper around exactly one component instance.
//
// A container drives its component through the life cycle
//
//	CONSTRUCTED → LOADED → INSTANTIATED → INITIALIZED → ACTIVE ⇄ BLOCKED
//	                                        INITIALIZED → STATERECVRY → ACTIVE
//
// and into REMOVED from any live state. Every transition outside this edge
// set is rejected with an IllegalTransitionError.
//
// Input reaches the component through three independent sources (channel
// events, service responses, runtime timers). While the container is not
// ACTIVE, or a source is decoupled, input is held in the EventBuffer as
// downstream events. Events handed to the component stay in the buffer as
// activity events until the component acknowledges them with PROCESSED.
//
// Thread-safety: all exported methods are safe for concurrent use.
// Migration operations (PrepareMigration, CancelMigration) are serialized
// per container; a second concurrent call fails with AlreadyInTransitionError.
//
// Delivery order is FIFO per container. Events are invoked outside the
// container lock, and an event published by the component from inside
// InvokeOperation is queued behind the current one rather than recursing.
package container
