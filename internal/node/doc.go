// Package node holds the per-runtime context: the containers visible on
// this runtime, the catalog of component descriptors, the migration
// history and the user-visible notification feed.
//
// One RuntimeContext is created per runtime process and passed explicitly
// to the manager, the coordinator and the transport. Nothing here is a
// package-level singleton, so tests can run several runtimes side by side
// in one process.
package node
