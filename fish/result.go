package fish

import (
	"context"

	"github.com/Actyx/Actyx-sub006/eventstore"
)

// Result is what a command handler produces: no events, a synchronous
// list of events, or an asynchronous computation yielding events. The
// pipeline switches exhaustively over the three variants.
type Result interface {
	isResult()
}

// NoEvents means the command has no effect: no state change, no gating.
type NoEvents struct{}

func (NoEvents) isResult() {}

// SyncEvents carries events to append immediately.
type SyncEvents struct {
	Events []eventstore.Proposed
}

func (SyncEvents) isResult() {}

// AsyncEvents defers event production to a side-effecting computation,
// e.g. a network call. Run executes off the pipeline; its events are
// appended when it returns.
type AsyncEvents struct {
	Run func(ctx context.Context) ([]eventstore.Proposed, error)
}

func (AsyncEvents) isResult() {}

// EmitNone is shorthand for a command without effect.
func EmitNone() Result { return NoEvents{} }

// Emit is shorthand for synchronously emitting the given events.
func Emit(events ...eventstore.Proposed) Result {
	return SyncEvents{Events: events}
}

// EmitAsync is shorthand for deferring event production to fn.
func EmitAsync(fn func(ctx context.Context) ([]eventstore.Proposed, error)) Result {
	return AsyncEvents{Run: fn}
}
