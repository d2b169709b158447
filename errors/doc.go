// Package errors provides standardized error handling for the pond runtime.
//
// # Overview
//
// The package implements a three-class error classification: Transient
// (temporary, retryable), Invalid (bad input, non-retryable), and Fatal
// (unrecoverable, stop processing). Classification lets store adapters and
// pipelines make retry and failure decisions without string matching.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "MemoryStore", "Persist", "publish")
//	errors.WrapInvalid(err, "FishEventStore", "ProcessEvents", "decode payload")
//	errors.WrapFatal(err, "BadgerStore", "Open", "open database")
//
// The generic Wrap() preserves the original error's classification.
//
// # Standard Error Variables
//
// Pre-defined variables cover the common conditions of this runtime:
// pipeline lifecycle (ErrDisposed, ErrAlreadyStarted), stores
// (ErrStoreUnavailable, ErrStreamNotFound), subscriptions
// (ErrMixedSubscriptions), and snapshots (ErrSnapshotRejected,
// ErrSnapshotVersionMismatch). Use them instead of ad hoc messages so
// errors.Is checks keep working across packages.
//
// All classification and wrapping operations are thread-safe and integrate
// with errors.Is, errors.As and error wrapping chains. Context errors
// (context.DeadlineExceeded, context.Canceled) classify as Transient.
package errors
