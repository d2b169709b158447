package eventstore

import (
	"context"
	"encoding/json"

	"github.com/Actyx/Actyx-sub006/event"
)

// Order selects the replay direction of a Query.
type Order int

const (
	// OrderAsc replays events in ascending (lamport, stream) order.
	OrderAsc Order = iota
	// OrderDesc replays events in descending (lamport, stream) order.
	OrderDesc
)

// Filter selects events out of the log. subscription.Set satisfies this.
type Filter interface {
	Matches(ev event.Event) bool
}

// FilterFunc adapts a plain predicate to a Filter.
type FilterFunc func(ev event.Event) bool

// Matches implements Filter.
func (f FilterFunc) Matches(ev event.Event) bool { return f(ev) }

// Proposed is an event a command handler wants to append: tags plus an
// opaque payload. Stream, offset, lamport and timestamp are assigned by
// the store on Persist.
type Proposed struct {
	Tags    event.TagSet    `json:"tags,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Cursor delivers event batches from the store to one consumer. Read C
// until it closes, then check Err for why delivery stopped. Events are
// never silently dropped: a delivery or decode failure terminates the
// cursor with a non-nil Err instead of skipping ahead.
type Cursor struct {
	C <-chan []event.Event

	// err is written by the producing side before C is closed; the
	// channel close is the synchronization point.
	err error
}

// Err reports the first delivery failure, nil for normal completion or
// context end. Valid only once C is closed.
func (c *Cursor) Err() error { return c.err }

// NewCursor pairs a cursor with its producing side. The producer calls
// fail at most once and only before closing the channel.
func NewCursor(buffer int) (cur *Cursor, ch chan []event.Event, fail func(error)) {
	ch = make(chan []event.Event, buffer)
	cur = &Cursor{C: ch}
	return cur, ch, func(err error) { cur.err = err }
}

// Store is the event log contract consumed by the runtime.
//
// All cursors deliver events already sorted in (lamport, stream) order
// within each batch. Implementations may retain the from map for the
// lifetime of the cursor; callers hand over a map they will not mutate
// afterwards.
type Store interface {
	// Present returns the per-stream high-water marks at this moment.
	Present(ctx context.Context) (event.OffsetMap, error)

	// Query replays stored events with offsets in (from, to] that match
	// the filter. The cursor is finite: its channel closes once the
	// range is exhausted, ctx is done, or replay fails.
	Query(ctx context.Context, from, to event.OffsetMap, filter Filter, order Order) (*Cursor, error)

	// Subscribe delivers stored events past from, then every future
	// matching event, until ctx is done or the feed fails.
	Subscribe(ctx context.Context, filter Filter, from event.OffsetMap) (*Cursor, error)

	// Persist appends proposed events to the given stream and returns
	// them with assigned offsets, lamports and timestamps, in order.
	Persist(ctx context.Context, stream event.StreamID, proposed []Proposed) ([]event.Event, error)
}
