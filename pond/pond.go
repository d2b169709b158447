package pond

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/jar"
	"github.com/Actyx/Actyx-sub006/metric"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

// Pond hosts Fish pipelines. Each Fish identity gets at most one live jar;
// observing or commanding a Fish hydrates it on first use.
type Pond struct {
	store    eventstore.Store
	snaps    snapshot.Store
	sched    snapshot.Scheduler
	logger   *slog.Logger
	metrics  *metric.Metrics
	sourceID event.StreamID
	clock    func() time.Time
	tracker  *activityTracker

	mu       sync.Mutex
	jars     map[fish.Identity]*jar.Jar
	disposed bool

	// closers run on Dispose, last added first. Open uses them to tie
	// backend store lifetimes to the pond.
	closers []func() error
}

// Option adjusts a Pond at construction time.
type Option func(*Pond)

// WithSnapshots enables local state snapshots backed by the given store.
func WithSnapshots(s snapshot.Store, sched snapshot.Scheduler) Option {
	return func(p *Pond) {
		p.snaps = s
		p.sched = sched
	}
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pond) { p.logger = l }
}

// WithMetrics wires the runtime metrics into every hosted pipeline.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pond) { p.metrics = m }
}

// WithSourceID fixes the stream this pond's Fish emit onto. A random
// stream id is generated otherwise.
func WithSourceID(id event.StreamID) Option {
	return func(p *Pond) { p.sourceID = id }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Pond) { p.clock = clock }
}

// New creates a Pond on top of the given event store.
func New(store eventstore.Store, opts ...Option) (*Pond, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pond", "New", "event store is nil")
	}
	p := &Pond{
		store:   store,
		sched:   snapshot.DefaultScheduler(),
		logger:  slog.Default(),
		clock:   time.Now,
		tracker: newActivityTracker(),
		jars:    make(map[fish.Identity]*jar.Jar),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sourceID == "" {
		p.sourceID = eventstore.NewStreamID()
	}
	p.logger = p.logger.With("source", string(p.sourceID))
	return p, nil
}

// SourceID returns the stream this pond's Fish emit onto.
func (p *Pond) SourceID() event.StreamID {
	return p.sourceID
}

// jarFor returns the live jar for the Fish, hydrating it on first use.
// Two Fish with the same identity share one pipeline; the first
// definition wins.
func (p *Pond) jarFor(ctx context.Context, f *fish.Fish) (*jar.Jar, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, errors.ErrDisposed
	}
	if j, ok := p.jars[f.Identity()]; ok {
		p.mu.Unlock()
		return j, nil
	}
	p.mu.Unlock()

	// Hydration runs outside the lock: replay may take a while and other
	// Fish must not stall behind it.
	j, err := jar.Hydrate(ctx, f, jar.Deps{
		Store:     p.store,
		Snapshots: p.snaps,
		Scheduler: p.sched,
		Tracker:   p.tracker,
		Logger:    p.logger,
		Metrics:   p.metrics,
		Clock:     p.clock,
		SourceID:  p.sourceID,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		j.Dispose()
		return nil, errors.ErrDisposed
	}
	if existing, ok := p.jars[f.Identity()]; ok {
		// Lost the hydration race; keep the first pipeline.
		j.Dispose()
		return existing, nil
	}
	p.jars[f.Identity()] = j
	return j, nil
}

// Observe subscribes to a Fish's public state. The latest state is
// replayed immediately; the cancel function releases the subscription
// without stopping the pipeline.
func (p *Pond) Observe(ctx context.Context, f *fish.Fish) (<-chan any, func(), error) {
	j, err := p.jarFor(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := j.Observe()
	return ch, cancel, nil
}

// Enqueue hands a command to a Fish's pipeline. Callbacks are optional
// and fire at most once.
func (p *Pond) Enqueue(ctx context.Context, f *fish.Fish, cmd any, onComplete func(), onError func(error)) error {
	j, err := p.jarFor(ctx, f)
	if err != nil {
		return err
	}
	j.Enqueue(cmd, onComplete, onError)
	return nil
}

// Run enqueues a command and waits for its completion.
func (p *Pond) Run(ctx context.Context, f *fish.Fish, cmd any) error {
	j, err := p.jarFor(ctx, f)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	j.Enqueue(cmd, func() { done <- nil }, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports which Fish are currently busy, per pipeline phase.
func (p *Pond) State() State {
	return p.tracker.State()
}

// WaitQuiet blocks until every hosted Fish is idle or the context ends.
func (p *Pond) WaitQuiet(ctx context.Context) error {
	return p.tracker.WaitQuiet(ctx)
}

// Dispose stops every hosted pipeline. Commands enqueued afterwards fail
// with ErrDisposed; in-flight callbacks are dropped.
func (p *Pond) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	jars := make([]*jar.Jar, 0, len(p.jars))
	for _, j := range p.jars {
		jars = append(jars, j)
	}
	p.jars = make(map[fish.Identity]*jar.Jar)
	p.mu.Unlock()

	for _, j := range jars {
		j.Dispose()
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.logger.Warn("backend close failed", "error", err)
		}
	}
	p.logger.Info("pond disposed", "jars", len(jars))
}

// Dump renders all hosted pipelines for diagnostics.
func (p *Pond) Dump() string {
	p.mu.Lock()
	lines := make([]string, 0, len(p.jars)+1)
	for _, j := range p.jars {
		lines = append(lines, j.Dump())
	}
	n := len(p.jars)
	p.mu.Unlock()

	sort.Strings(lines)
	header := fmt.Sprintf("pond source=%s jars=%d", p.sourceID, n)
	return strings.Join(append([]string{header}, lines...), "\n")
}
