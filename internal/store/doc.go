// Package store provides SQLite-backed durable storage for the migration
// history of one runtime.
//
// The store is an append-mostly journal with:
//   - Transactions: one row per transaction this runtime took part in,
//     updated as the transaction moves through its states
//   - Transitions: every state change, append-only
//   - Checkpoints: the migrated states exchanged during PREPARE
//
// Store implements node.Journal, so a RuntimeContext configured with it
// writes through every history change.
//
// # Ordering
//
// Ordering uses the seq columns stamped by the runtime's history, never
// wall-clock timestamps. Every list query ends in ORDER BY seq ASC, id ASC
// COLLATE BINARY so results are identical across reads.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Checkpoint payloads are stored as RFC 8785 canonical JSON together with
// their digest, so a stored state can be re-verified with
// ir.CheckpointDigest.
package store
