package snapshot

import (
	"context"
	"time"

	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
)

// Tag buckets a snapshot by the age of the state it represents. Stores
// may use it to retain snapshots at graded granularity.
type Tag string

const (
	// TagHour marks snapshots of state less than a day old.
	TagHour Tag = "hour"
	// TagDay marks snapshots of state between a day and a month old.
	TagDay Tag = "day"
	// TagMonth marks snapshots of state older than a month.
	TagMonth Tag = "month"
)

// RecencyTag buckets an event timestamp relative to now.
func RecencyTag(eventTime, now time.Time) Tag {
	age := now.Sub(eventTime)
	switch {
	case age < 24*time.Hour:
		return TagHour
	case age < 30*24*time.Hour:
		return TagDay
	default:
		return TagMonth
	}
}

// Snapshot is one persisted serialization of a Fish's state.
type Snapshot struct {
	// Identity of the Fish the state belongs to.
	Identity fish.Identity `json:"identity"`
	// Version is the serialization format generation. Only the newest
	// version per identity is retained.
	Version int `json:"version"`
	// Tag is the recency bucket.
	Tag Tag `json:"tag"`
	// Key is the causal position of the last event folded into State.
	Key event.Key `json:"key"`
	// Offsets are the per-stream high-water marks of the folded events;
	// hydration replays from here.
	Offsets event.OffsetMap `json:"offsets"`
	// Horizon, when set, is a lower bound below which events are
	// irrelevant to this Fish.
	Horizon *event.Key `json:"horizon,omitempty"`
	// Cycle counts folded events monotonically.
	Cycle uint64 `json:"cycle"`
	// State is the serialized state blob.
	State []byte `json:"state"`
}

// Store persists and retrieves snapshots.
//
// Store semantics: an attempt is rejected (false, nil) when an
// equal-or-newer snapshot is already present for the identity; callers
// discard the local attempt without error. Storing a newer Version purges
// all snapshots of older versions for that identity.
type Store interface {
	// Store persists the snapshot, reporting whether it was accepted.
	Store(ctx context.Context, snap Snapshot) (bool, error)

	// Retrieve returns the newest snapshot for the identity at exactly
	// the given version, or nil when none exists.
	Retrieve(ctx context.Context, identity fish.Identity, version int) (*Snapshot, error)

	// Invalidate atomically removes every snapshot of the identity whose
	// Key is at or after key.
	Invalidate(ctx context.Context, identity fish.Identity, key event.Key) error

	// InvalidateAll removes every snapshot of every identity.
	InvalidateAll(ctx context.Context) error
}
