// Package event defines the core event model: events carrying a lamport
// timestamp, per-stream offsets, tags and an opaque payload, together with
// the offset-map bookkeeping used by every pipeline.
//
// The total order over events is (Lamport, Stream); it is the single source
// of truth for happened-before across the whole system.
package event
