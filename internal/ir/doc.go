// Package ir provides the shared data model of the mashup runtime.
//
// This package contains value types only. All other internal packages
// import ir; ir imports nothing internal. Component items, descriptors,
// checkpoints, buffered events and the migration protocol messages all
// live here so that source and target runtimes agree on one encoding.
//
// Key design constraints:
//   - Property values and event payloads use the sealed Value interface
//   - NO float types in Value - decimals travel as strings
//   - Checkpoint digests use RFC 8785 canonical JSON with domain separation
//   - All JSON tags use snake_case
package ir
