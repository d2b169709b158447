// Package pond provides an event-sourced actor runtime: many independent
// logical actors ("Fish") reconstruct and evolve their state from a shared,
// replicated, append-only event log.
//
// # Architecture
//
// Each Fish derives its state by folding a pure reducer over the causally
// ordered sequence of events selected by its subscription set. Callers issue
// commands against a Fish; a command handler sees the latest state and may
// emit events, which travel through the event store and return as live
// events before the next command is admitted. This closes the race where a
// second command could observe state that has not yet absorbed the first
// command's own events.
//
//	┌────────────┐   filter    ┌───────────────┐   fold    ┌──────────┐
//	│ EventStore ├────────────►│   jar.Cache   ├──────────►│ jar.Jar  │
//	│ (external) │             │ (incremental  │           │ pipeline │
//	└─────▲──────┘             │  state cache) │           └────┬─────┘
//	      │                    └───────────────┘                │
//	      │        persist emitted events                       │
//	      └─────────────────────────────────────────────────────┘
//
// # Framework Packages
//
// Core:
//   - event: events, lamport timestamps, offsets, offset maps
//   - subscription: the algebraic event filter compiled per Fish
//   - fish: Fish definitions, command results, identities
//   - jar: the per-Fish pipeline (hydration, command gating, state cache)
//   - pond: the host-facing runtime tying jars to stores
//
// Stores:
//   - eventstore: the event log contract plus the in-process implementation
//   - eventstore/natsstore: NATS JetStream backed event log
//   - eventstore/pgstore: PostgreSQL backed event log
//   - snapshot: snapshot records, store contract, eligibility scheduler
//   - snapshot/badgerstore: BadgerDB backed snapshot store
//   - snapshot/sqlitestore: SQLite backed snapshot store
//
// Infrastructure:
//   - errors: structured error handling with classification
//   - metric: Prometheus metrics
//   - config: runtime configuration
//   - pkg/retry: retry policies for store adapters
//
// # Guarantees
//
// Per Fish: commands are applied in total order with at most one in flight;
// a command enqueued after another command's completion callback observes a
// state that reflects every event the earlier command emitted. Across Fish:
// no shared mutable state; pipelines converge independently from the same
// log. The final state of a Fish is always equal to folding its reducer
// over the full (lamport, stream) ordered event sequence accepted by its
// subscription set, regardless of interleaving.
package pond
