package jar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/metric"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

// Cache is the incremental reducer cache of one Fish: the authoritative
// in-memory event buffer plus the last computed state. It owns snapshot
// validity: any accepted event at or before a persisted snapshot's key
// triggers invalidation in the snapshot store.
//
// A Cache is exclusively owned by its Jar's driving goroutine and is not
// safe for concurrent use.
type Cache struct {
	fish    *fish.Fish
	snaps   snapshot.Store
	sched   snapshot.Scheduler
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   func() time.Time

	// base is either the hydration snapshot, the last accepted runtime
	// snapshot, or the Fish's static initial state (baseBlob nil).
	baseBlob  []byte
	baseKey   event.Key
	baseCycle uint64
	hasBase   bool

	events  []event.Event
	offsets event.OffsetMap
	horizon *event.Key

	state      any
	folded     int
	stateValid bool

	// persisted snapshot bookkeeping
	lastSnapKey    event.Key
	hasSnapKey     bool
	sinceSnapshot  int
	lastSnapshotAt time.Time
}

// NewCache creates an empty cache folding from the Fish's initial state.
func NewCache(f *fish.Fish, snaps snapshot.Store, sched snapshot.Scheduler,
	logger *slog.Logger, metrics *metric.Metrics, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		fish:           f,
		snaps:          snaps,
		sched:          sched,
		logger:         logger.With("fish", f.Identity().String()),
		metrics:        metrics,
		clock:          clock,
		offsets:        event.OffsetMap{},
		lastSnapshotAt: clock(),
	}
}

// Bootstrap installs a retrieved snapshot as the fold base. The blob is
// deserialized once to verify it; a corrupt blob is an error and the
// caller falls back to genesis.
func (c *Cache) Bootstrap(snap *snapshot.Snapshot) error {
	codec := c.fish.Codec()
	if codec == nil {
		return errors.WrapInvalid(errors.ErrSnapshotVersionMismatch,
			"Cache", "Bootstrap", "snapshot for a Fish without codec")
	}
	if _, err := codec.Deserialize(snap.State); err != nil {
		return errors.WrapInvalid(err, "Cache", "Bootstrap", "deserialize snapshot")
	}

	c.baseBlob = snap.State
	c.baseKey = snap.Key
	c.baseCycle = snap.Cycle
	c.hasBase = true
	c.offsets = snap.Offsets.Copy()
	c.horizon = snap.Horizon
	c.lastSnapKey = snap.Key
	c.hasSnapKey = true
	c.invalidateState()
	return nil
}

// ProcessEvents appends the subscription-matched part of the batch to the
// buffer in causal order. It returns whether an observer-visible
// recomputation is now pending; the actual (potentially expensive) fold
// is deferred until CurrentState is called.
func (c *Cache) ProcessEvents(ctx context.Context, batch []event.Event) (bool, error) {
	accepted := 0
	for _, ev := range batch {
		if !c.fish.Subscription().Matches(ev) {
			continue
		}
		if c.offsets.Contains(ev) {
			continue // already integrated
		}
		if err := c.insert(ctx, ev); err != nil {
			return accepted > 0, err
		}
		c.offsets.Update(ev)
		accepted++
		c.sinceSnapshot++
	}
	if accepted > 0 && c.metrics != nil {
		c.metrics.EventsIntegrated.
			WithLabelValues(c.fish.Identity().Semantics).Add(float64(accepted))
	}
	return accepted > 0, nil
}

func (c *Cache) insert(ctx context.Context, ev event.Event) error {
	key := ev.Key()

	// An event at or before a persisted snapshot's key makes that
	// snapshot (and any later one) stale: discard them as a set.
	if c.hasSnapKey && !c.lastSnapKey.Before(key) {
		c.invalidateSnapshots(ctx, key)
	}

	// Below the fold base the buffer cannot reconstruct state.
	if c.hasBase && key.Before(c.baseKey) {
		return errors.WrapFatal(errors.ErrOrderViolation, "Cache", "insert",
			fmt.Sprintf("event %s precedes snapshot base %s", key, c.baseKey))
	}

	if n := len(c.events); n == 0 || c.events[n-1].Before(ev) {
		c.events = append(c.events, ev)
		return nil
	}

	// Out-of-order arrival: splice in and refold from the base.
	idx := sort.Search(len(c.events), func(i int) bool {
		return ev.Before(c.events[i])
	})
	c.events = append(c.events, event.Event{})
	copy(c.events[idx+1:], c.events[idx:])
	c.events[idx] = ev
	if idx < c.folded {
		c.invalidateState()
	}
	return nil
}

func (c *Cache) invalidateState() {
	c.state = nil
	c.folded = 0
	c.stateValid = false
}

func (c *Cache) invalidateSnapshots(ctx context.Context, key event.Key) {
	c.hasSnapKey = false
	if c.snaps == nil {
		return
	}
	if err := c.snaps.Invalidate(ctx, c.fish.Identity(), key); err != nil {
		c.logger.Warn("snapshot invalidation failed", "key", key.String(), "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.SnapshotsInvalidated.Inc()
	}
	c.logger.Debug("snapshots invalidated", "key", key.String())
}

// CurrentState returns the reduced state, recomputing from the fold base
// only as far as needed. Never re-derives from genesis while a valid base
// exists.
func (c *Cache) CurrentState(_ context.Context) (any, error) {
	if !c.stateValid {
		base, err := c.freshBase()
		if err != nil {
			return nil, err
		}
		c.state = base
		c.folded = 0
		c.stateValid = true
	}

	for c.folded < len(c.events) {
		next, err := c.fish.ApplyEvent(c.state, c.events[c.folded])
		if err != nil {
			c.invalidateState()
			return nil, errors.WrapInvalid(err, "Cache", "CurrentState",
				fmt.Sprintf("fold event %s", c.events[c.folded].Key()))
		}
		c.state = next
		c.folded++
	}
	return c.state, nil
}

func (c *Cache) freshBase() (any, error) {
	if c.baseBlob == nil {
		return c.fish.InitialState(), nil
	}
	base, err := c.fish.Codec().Deserialize(c.baseBlob)
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrSnapshotCorrupted, "Cache", "freshBase",
			"deserialize fold base")
	}
	return base, nil
}

// stateKey is the causal position of the last folded event.
func (c *Cache) stateKey() event.Key {
	if c.folded > 0 {
		return c.events[c.folded-1].Key()
	}
	return c.baseKey
}

// Cycle counts all events ever folded into the state.
func (c *Cache) Cycle() uint64 {
	return c.baseCycle + uint64(c.folded)
}

// Offsets returns the per-stream high-water marks of integrated events.
// The caller must not mutate the returned map.
func (c *Cache) Offsets() event.OffsetMap {
	return c.offsets
}

// CurrentEvents returns the buffered event count, for diagnostics.
func (c *Cache) CurrentEvents() int {
	return len(c.events)
}

// MaybeSnapshot asks the scheduler whether a snapshot is due and, if so,
// serializes the current state and offers it to the store. Rejection is
// discarded without error; acceptance rebases the buffer onto the new
// snapshot.
func (c *Cache) MaybeSnapshot(ctx context.Context) {
	codec := c.fish.Codec()
	if codec == nil || c.snaps == nil || !c.stateValid || c.folded != len(c.events) {
		return
	}
	now := c.clock()
	if !c.sched.ShouldSnapshot(c.sinceSnapshot, now.Sub(c.lastSnapshotAt)) {
		return
	}
	if c.folded == 0 {
		return
	}

	blob, err := codec.Serialize(c.state)
	if err != nil {
		c.logger.Warn("snapshot serialization failed", "error", err)
		return
	}

	last := c.events[c.folded-1]
	snap := snapshot.Snapshot{
		Identity: c.fish.Identity(),
		Version:  codec.Version(),
		Tag:      snapshot.RecencyTag(last.Timestamp, now),
		Key:      last.Key(),
		Offsets:  c.offsets.Copy(),
		Horizon:  c.horizon,
		Cycle:    c.Cycle(),
		State:    blob,
	}

	accepted, err := c.snaps.Store(ctx, snap)
	if err != nil {
		c.logger.Warn("snapshot store failed", "key", snap.Key.String(), "error", err)
		return
	}
	c.sinceSnapshot = 0
	c.lastSnapshotAt = now
	if !accepted {
		// An equal-or-newer snapshot is already stored; the local
		// attempt is simply discarded.
		if c.metrics != nil {
			c.metrics.SnapshotsRejected.Inc()
		}
		c.logger.Debug("snapshot rejected by store", "key", snap.Key.String())
		return
	}

	// Rebase: folded events are now covered by the snapshot.
	c.baseBlob = blob
	c.baseKey = snap.Key
	c.baseCycle = snap.Cycle
	c.hasBase = true
	c.events = append([]event.Event(nil), c.events[c.folded:]...)
	c.folded = 0
	c.lastSnapKey = snap.Key
	c.hasSnapKey = true
	if c.metrics != nil {
		c.metrics.SnapshotsStored.Inc()
	}
	c.logger.Debug("snapshot stored", "key", snap.Key.String(), "cycle", snap.Cycle)
}

// Dump renders the cache for diagnostics.
func (c *Cache) Dump() string {
	return fmt.Sprintf("%s buffered=%d folded=%d cycle=%d offsets=%s",
		c.fish.Identity(), len(c.events), c.folded, c.Cycle(), c.offsets)
}
