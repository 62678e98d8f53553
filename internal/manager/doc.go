// Package manager integrates batches of components into a runtime and
// removes them again.
//
// An integration job is a completion barrier over four checkmarks:
// resources loaded, instances created, channels coupled and components
// initialized. The containers of a batch become visible in the runtime
// context only once all four are set for the whole batch, so the rest of
// the runtime never sees a partially integrated batch.
//
// The manager also owns the channel registry that routes events published
// by one component to every other endpoint of the channel.
package manager
