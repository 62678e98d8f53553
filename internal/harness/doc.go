// Package harness runs migration scenarios against in-process runtimes.
//
// Every runtime of a scenario is assembled the way `mashupctl serve` assembles one:
// a runtime context journaling into its own in-memory SQLite store, an
// integration manager, a distribution coordinator and a protocol engine.
// Components are scripted fakes. The orchestrator then runs the scenario's
// migration through the engines and the harness records a trace of the
// protocol steps, transaction transitions, notifications and final
// container states.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: move_map
//	description: "What this scenario validates"
//	specs:
//	  - ../specs/map.cue
//	runtimes:
//	  - id: d1
//	    channels:
//	      - {name: geo, operation: moveTo}
//	    components:
//	      - {component: map, instance: m1, properties: {zoom: 14}}
//	    scripts:
//	      m1: {prepare: ready}
//	    events:
//	      - {from: l1, channel: geo, payload: {lat: 51}, when: prepared}
//	  - id: d2
//	migration:
//	  id: mig-1
//	  source: d1
//	  target: d2
//	  modifications:
//	    - id: mod-1
//	      type: ADD
//	      target: d2
//	      components: [{component: map, instance: m1}]
//	assertions:
//	  - {type: outcome, outcome: committed}
//	  - {type: container_state, runtime: d2, instance: m1, state: ACTIVE}
//
// # Assertion Types
//
//   - outcome: the orchestrator's outcome (committed, aborted, cancelled, failed)
//   - step_order: the protocol steps as "runtime:action:CODE"
//   - container_state: a final container state, or "absent"
//   - property: a component property on the live runtime
//   - transaction_state: the journaled transaction state
//   - notification: a notification by level and message substring
//   - invocations: the operations a component received, in order
//
// # Deterministic Testing
//
// Transaction ids, job ids and event ids come from sequence generators and
// every runtime journals into its own in-memory SQLite database, so traces
// of scenarios without timing races compare byte for byte against golden
// files.
package harness
