// Package natsstore implements the event store on NATS JetStream.
//
// All events live in one JetStream stream, one subject per event stream.
// The JetStream stream sequence doubles as the lamport clock: it is
// assigned on append and strictly increasing, so causal order falls out
// of the broker. Per-stream offsets are reserved through an atomic KV
// counter; every event stream is expected to have a single writer.
package natsstore
