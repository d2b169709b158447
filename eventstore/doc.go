// Package eventstore defines the event log contract the runtime consumes,
// and provides the in-process implementation used by tests and by hosts
// that run without an external node.
//
// The contract has four operations: Present (the current high-water marks),
// Query (finite historical replay between offset bounds), Subscribe (the
// infinite live feed) and Persist (append with offset/lamport assignment).
// Backend adapters live in the subpackages natsstore (NATS JetStream) and
// pgstore (PostgreSQL).
package eventstore
