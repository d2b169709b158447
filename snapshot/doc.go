// Package snapshot defines persisted, versioned serializations of Fish
// state at a known event position, the store contract for keeping them,
// and the scheduler deciding when a new snapshot is worth computing.
//
// Snapshots bound the cost of state recomputation: hydration and cache
// refolds start from the newest valid snapshot instead of genesis. Any
// event arriving at or before a snapshot's recorded key invalidates it.
// Backend adapters live in the subpackages badgerstore (BadgerDB) and
// sqlitestore (SQLite).
package snapshot
