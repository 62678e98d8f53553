// Package distribution implements the migration coordinator of one
// runtime.
//
// A migration is a two-phase transaction between a source runtime and a
// target runtime. The coordinator plays whichever role a request names:
//
//	PREPARE  source: block and checkpoint every outgoing component
//	         target: check executability, integrate the incoming
//	                 components and inject their checkpoints
//	COMMIT   source: drain downstream events, remove the components
//	         target: resume the components with the forwarded events
//	CANCEL   source: unprepare and replay buffered events
//	         target: remove the speculatively integrated components
//
// The coordinator never decides between commit and cancel itself; an
// orchestrator that has seen both prepare answers does. Each transaction
// moves through PENDING, PREPARING, then READY or NOT_READY, and ends in
// DONE, CANCELLED or FAILED. PREPARING is bounded by one transaction-wide
// deadline.
package distribution
