package jar

import (
	"context"
	"log/slog"
	"time"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/metric"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

// Deps bundles the collaborators a jar needs. Store is required for
// persistent Fish; everything else has a working default.
type Deps struct {
	Store     eventstore.Store
	Snapshots snapshot.Store
	Scheduler snapshot.Scheduler
	Tracker   StateTracker
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	Clock     func() time.Time
	SourceID  event.StreamID
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = NopTracker{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Scheduler == (snapshot.Scheduler{}) {
		d.Scheduler = snapshot.DefaultScheduler()
	}
	if d.SourceID == "" {
		d.SourceID = eventstore.NewStreamID()
	}
}

// Hydrate brings a Fish to life: it restores the newest usable snapshot,
// replays the subscribed backlog up to the store's present, attaches the
// live feed and starts the driving task. The returned jar accepts
// commands immediately; admission naturally waits until the pipeline is
// caught up.
func Hydrate(ctx context.Context, f *fish.Fish, deps Deps) (*Jar, error) {
	deps.defaults()
	if f == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "jar", "Hydrate", "fish is nil")
	}
	if deps.Store == nil && !f.Ephemeral() {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "jar", "Hydrate", "event store is nil")
	}

	id := f.Identity()
	tracker := newSafeTracker(deps.Tracker, deps.Logger)
	tracker.hydrationStarted(id)
	defer tracker.hydrationFinished(id)

	start := deps.Clock()
	logger := deps.Logger.With("fish", id.String())

	jarCtx, cancel := context.WithCancel(context.Background())
	j := &Jar{
		fish:     f,
		store:    deps.Store,
		cache:    NewCache(f, deps.Snapshots, deps.Scheduler, deps.Logger, deps.Metrics, deps.Clock),
		subject:  NewStateSubject(),
		tracker:  tracker,
		logger:   logger,
		metrics:  deps.Metrics,
		sourceID: deps.SourceID,
		ctx:      jarCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		cmdCh:    make(chan Command),
		effectCh: make(chan effectResult, 1),
		pokeCh:   make(chan struct{}, 1),
		dumpCh:   make(chan chan string),
		waitFor:  event.OffsetMap{},
	}

	switch {
	case f.Ephemeral():
		// No store interaction at all: genesis state, locally assigned
		// causal order, nothing to replay.

	case f.Degenerate():
		// Explicitly empty subscription: no replay and no live feed.
		// Emitted events still persist but never feed back.

	default:
		if err := j.replay(ctx); err != nil {
			cancel()
			return nil, err
		}
		// The feed may hold on to the offset map; hand it a copy so the
		// cache can keep advancing its own.
		live, err := deps.Store.Subscribe(jarCtx, j.filter(), j.cache.Offsets().Copy())
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "jar", "Hydrate", "attach live feed")
		}
		j.liveCur = live
		j.live = live.C
	}

	// Seed the subject so late subscribers replay a real state even
	// before the first live publication.
	state, err := j.cache.CurrentState(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	j.subject.Publish(state)

	if deps.Metrics != nil {
		deps.Metrics.HydrationDuration.Observe(deps.Clock().Sub(start).Seconds())
		deps.Metrics.ActiveJars.Inc()
	}
	logger.Info("fish hydrated",
		"events", j.cache.CurrentEvents(),
		"cycle", j.cache.Cycle(),
		"took", deps.Clock().Sub(start))

	go func() {
		defer func() {
			if j.metrics != nil {
				j.metrics.ActiveJars.Dec()
			}
		}()
		j.run()
	}()
	return j, nil
}

func (j *Jar) filter() eventstore.Filter {
	return eventstore.FilterFunc(j.fish.Subscription().Matches)
}

// replay restores the snapshot base and folds the subscribed backlog up
// to the store's present.
func (j *Jar) replay(ctx context.Context) error {
	if err := j.restoreSnapshot(ctx); err != nil {
		return err
	}

	present, err := j.store.Present(ctx)
	if err != nil {
		return errors.Wrap(err, "jar", "replay", "read present offsets")
	}

	cur, err := j.store.Query(ctx, j.cache.Offsets().Copy(), present, j.filter(), eventstore.OrderAsc)
	if err != nil {
		return errors.Wrap(err, "jar", "replay", "query backlog")
	}
	for batch := range cur.C {
		if _, err := j.cache.ProcessEvents(ctx, batch); err != nil {
			return err
		}
	}
	// A replay that stopped short would leave the fold silently missing
	// events; treat it as a failed hydration instead.
	if err := cur.Err(); err != nil {
		return errors.Wrap(err, "jar", "replay", "replay backlog")
	}
	return nil
}

// restoreSnapshot bootstraps the cache from the newest snapshot matching
// the Fish's codec version. A corrupt snapshot falls back to genesis and
// invalidates the stored chain so it is not retried on the next start.
func (j *Jar) restoreSnapshot(ctx context.Context) error {
	codec := j.fish.Codec()
	if codec == nil || j.cache.snaps == nil {
		return nil
	}

	snap, err := j.cache.snaps.Retrieve(ctx, j.fish.Identity(), codec.Version())
	if err != nil {
		return errors.Wrap(err, "jar", "restoreSnapshot", "retrieve snapshot")
	}
	if snap == nil {
		return nil
	}

	if err := j.cache.Bootstrap(snap); err != nil {
		j.logger.Warn("stored snapshot unusable, replaying from genesis", "error", err)
		if ierr := j.cache.snaps.Invalidate(ctx, j.fish.Identity(), event.ZeroKey); ierr != nil {
			j.logger.Warn("snapshot invalidation failed", "error", ierr)
		}
		return nil
	}
	j.logger.Debug("snapshot restored", "key", snap.Key, "cycle", snap.Cycle)
	return nil
}
