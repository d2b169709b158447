package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LamportTimestamp is the logical clock used as the primary causal order
// key across streams.
type LamportTimestamp uint64

// Offset is the position of an event within its stream. Offsets are
// monotonic per stream and start at zero.
type Offset int64

// StreamID identifies one event stream (one writer).
type StreamID string

// TagSet is a set of string tags attached to an event.
type TagSet map[string]struct{}

// Tags builds a TagSet from the given tags.
func Tags(tags ...string) TagSet {
	ts := make(TagSet, len(tags))
	for _, t := range tags {
		ts[t] = struct{}{}
	}
	return ts
}

// Has reports whether the set contains tag.
func (ts TagSet) Has(tag string) bool {
	_, ok := ts[tag]
	return ok
}

// Slice returns the tags in sorted order.
func (ts TagSet) Slice() []string {
	out := make([]string, 0, len(ts))
	for t := range ts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (ts TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Slice())
}

// UnmarshalJSON decodes a JSON array of strings.
func (ts *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*ts = Tags(tags...)
	return nil
}

// Event is one immutable record from the log.
type Event struct {
	Stream    StreamID         `json:"stream"`
	Offset    Offset           `json:"offset"`
	Lamport   LamportTimestamp `json:"lamport"`
	Timestamp time.Time        `json:"timestamp"`
	Tags      TagSet           `json:"tags,omitempty"`
	Payload   json.RawMessage  `json:"payload"`
}

// Key returns the composite causal-order key of the event.
func (e Event) Key() Key {
	return Key{Lamport: e.Lamport, Stream: e.Stream, Offset: e.Offset}
}

// Before reports whether e precedes other in the (lamport, stream) total
// order.
func (e Event) Before(other Event) bool {
	if e.Lamport != other.Lamport {
		return e.Lamport < other.Lamport
	}
	return e.Stream < other.Stream
}

// Key is the composite causal-order key of an event: lamport first, stream
// as tie-break, offset carried for store bookkeeping. It is comparable and
// used directly as a map key.
type Key struct {
	Lamport LamportTimestamp `json:"lamport"`
	Stream  StreamID         `json:"stream"`
	Offset  Offset           `json:"offset"`
}

// ZeroKey sorts before every event key.
var ZeroKey = Key{}

// Before reports whether k precedes other in the (lamport, stream) order.
func (k Key) Before(other Key) bool {
	if k.Lamport != other.Lamport {
		return k.Lamport < other.Lamport
	}
	return k.Stream < other.Stream
}

// String renders the key for logs and diagnostics.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", k.Lamport, k.Stream, k.Offset)
}

// SortBatch sorts a batch of events into (lamport, stream) order in place.
func SortBatch(batch []Event) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Before(batch[j])
	})
}

// OffsetMap records the last-known offset per stream. Keys are unique,
// there is no ordering between entries. A missing stream means no events
// from that stream have been seen.
type OffsetMap map[StreamID]Offset

// Copy returns an independent copy of the map.
func (om OffsetMap) Copy() OffsetMap {
	out := make(OffsetMap, len(om))
	for s, o := range om {
		out[s] = o
	}
	return out
}

// Contains reports whether the map already covers the given event.
func (om OffsetMap) Contains(e Event) bool {
	o, ok := om[e.Stream]
	return ok && o >= e.Offset
}

// Update advances the entry for the event's stream. OffsetMaps only move
// forward; an older offset is ignored.
func (om OffsetMap) Update(e Event) {
	if o, ok := om[e.Stream]; !ok || e.Offset > o {
		om[e.Stream] = e.Offset
	}
}

// Union merges other into om, keeping the maximum offset per stream.
func (om OffsetMap) Union(other OffsetMap) {
	for s, o := range other {
		if cur, ok := om[s]; !ok || o > cur {
			om[s] = o
		}
	}
}

// HasAll reports whether om covers every entry of want. An empty want is
// trivially satisfied.
func (om OffsetMap) HasAll(want OffsetMap) bool {
	for s, o := range want {
		if cur, ok := om[s]; !ok || cur < o {
			return false
		}
	}
	return true
}

// String renders the map with streams in sorted order, for diagnostics.
func (om OffsetMap) String() string {
	streams := make([]string, 0, len(om))
	for s := range om {
		streams = append(streams, string(s))
	}
	sort.Strings(streams)
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range streams {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%d", s, om[StreamID(s)])
	}
	b.WriteByte('}')
	return b.String()
}
