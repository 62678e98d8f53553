// Package engine runs the protocol loop of one runtime.
//
// Every PREPARE, COMMIT and CANCEL request addressed to a runtime is
// submitted to a FIFO queue and handled, one at a time, by the goroutine
// calling Run. Requests are stamped with a monotonic logical sequence from
// Clock so the order they were accepted in is explicit and shows up in logs
// and the migration history.
//
// Component lifecycle signals and channel input do not pass through the
// loop; containers handle them on the caller's goroutine. Only protocol
// requests are serialized.
package engine
