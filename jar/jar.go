package jar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/metric"
)

// Command is one queued command with its completion callbacks. Both
// callbacks are optional; each fires at most once, and never after
// disposal.
type Command struct {
	Payload    any
	OnComplete func()
	OnError    func(error)
}

// effectResult carries the outcome of a command's persistence (or of an
// ephemeral Fish's local assignment) back into the driving loop.
type effectResult struct {
	acked      []event.Event
	localDraft []eventstore.Proposed
	persistErr error
}

// Jar drives one hydrated Fish: it is the running pipeline instance.
type Jar struct {
	fish     *fish.Fish
	store    eventstore.Store
	cache    *Cache
	subject  *StateSubject
	tracker  safeTracker
	logger   *slog.Logger
	metrics  *metric.Metrics
	sourceID event.StreamID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cmdCh    chan Command
	effectCh chan effectResult
	pokeCh   chan struct{}
	dumpCh   chan chan string
	live     <-chan []event.Event
	liveCur  *eventstore.Cursor

	// loop-owned state
	queue    []Command
	inflight *Command
	waitFor  event.OffsetMap

	// ephemeral Fish bookkeeping: locally assigned causal order
	localLamport event.LamportTimestamp
	localOffset  event.Offset

	lastErr error
}

// Subject returns the public state subject of this Fish. It replays the
// latest published state to every new subscriber.
func (j *Jar) Subject() *StateSubject {
	return j.subject
}

// Observe subscribes to the Fish's state and asks the pipeline to publish
// the current value. The replayed-latest value may predate events whose
// fold was deferred while nobody was watching; the poke closes that gap.
func (j *Jar) Observe() (<-chan any, func()) {
	ch, cancel := j.subject.Subscribe()
	select {
	case j.pokeCh <- struct{}{}:
	default:
	}
	return ch, cancel
}

// Identity returns the identity of the Fish this jar drives.
func (j *Jar) Identity() fish.Identity {
	return j.fish.Identity()
}

// Enqueue queues a command. The pipeline admits at most one command at a
// time; admission additionally waits until every offset owed from the
// previous command has been observed. After disposal, onError fires with
// ErrDisposed.
func (j *Jar) Enqueue(cmd any, onComplete func(), onError func(error)) {
	if j.metrics != nil {
		j.metrics.CommandsEnqueued.WithLabelValues(j.fish.Identity().Semantics).Inc()
	}
	select {
	case j.cmdCh <- Command{Payload: cmd, OnComplete: onComplete, OnError: onError}:
	case <-j.ctx.Done():
		if onError != nil {
			onError(errors.ErrDisposed)
		}
	}
}

// Dispose stops the pipeline unconditionally and immediately: feeds are
// unsubscribed, the buffer is released, and in-flight commands receive no
// further callbacks.
func (j *Jar) Dispose() {
	j.cancel()
	<-j.done
	j.subject.Close()
}

// Dump renders pipeline diagnostics. The request is answered by the
// driving task so the loop-owned state is read consistently; after
// disposal the loop is gone and the state is frozen, so it is read
// directly.
func (j *Jar) Dump() string {
	reply := make(chan string, 1)
	select {
	case j.dumpCh <- reply:
		return <-reply
	case <-j.done:
		return j.render()
	}
}

func (j *Jar) render() string {
	return fmt.Sprintf("jar %s waitFor=%v queued=%d inflight=%v lastErr=%v",
		j.cache.Dump(), j.waitFor, len(j.queue), j.inflight != nil, j.lastErr)
}

// run is the driving task: it serializes live event integration, command
// admission and effect completion for this one Fish.
func (j *Jar) run() {
	defer close(j.done)
	for {
		j.admit()

		select {
		case <-j.ctx.Done():
			return

		case batch, ok := <-j.live:
			if !ok {
				if err := j.liveCur.Err(); err != nil {
					j.lastErr = err
					j.logger.Error("live feed failed", "error", err)
				}
				j.live = nil
				continue
			}
			j.integrate(batch)

		case cmd := <-j.cmdCh:
			j.queue = append(j.queue, cmd)
			j.updateQueueDepth()

		case <-j.pokeCh:
			j.publish()

		case reply := <-j.dumpCh:
			reply <- j.render()

		case res := <-j.effectCh:
			j.settle(res)
		}
	}
}

// admit starts the next queued command if the jar is idle and the gate is
// open: every offset owed from the previous command has been observed.
func (j *Jar) admit() {
	if j.inflight != nil || len(j.queue) == 0 {
		return
	}
	if !j.cache.Offsets().HasAll(j.waitFor) {
		return
	}

	cmd := j.queue[0]
	j.queue = j.queue[1:]
	j.updateQueueDepth()
	j.inflight = &cmd
	j.tracker.commandStarted(j.fish.Identity())

	state, err := j.cache.CurrentState(j.ctx)
	if err != nil {
		j.fail(err)
		return
	}

	result, err := j.runHandler(state, cmd.Payload)
	if err != nil {
		// Handler failure: no events were durably produced, so no wait
		// applies and the pipeline stays usable.
		j.fail(err)
		return
	}

	switch r := result.(type) {
	case fish.NoEvents:
		j.settle(effectResult{})

	case fish.SyncEvents:
		if len(r.Events) == 0 {
			j.settle(effectResult{})
			return
		}
		go j.persist(r.Events)

	case fish.AsyncEvents:
		go j.runEffect(r)

	default:
		j.fail(errors.WrapInvalid(errors.ErrInvalidConfig, "Jar", "admit",
			fmt.Sprintf("unknown command result %T", result)))
	}
}

// runHandler invokes the command handler, converting panics into errors
// at the admission boundary.
func (j *Jar) runHandler(state any, payload any) (result fish.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapInvalid(fmt.Errorf("command handler panic: %v", r),
				"Jar", "runHandler", "invoke handler")
		}
	}()
	return j.fish.RunCommand(j.ctx, state, payload)
}

// runEffect executes an asynchronous command effect off the pipeline. The
// gate stays closed for this Fish while it runs; event integration and
// other Fish continue unaffected. Effect failure is logged and treated as
// zero events produced.
func (j *Jar) runEffect(r fish.AsyncEvents) {
	drafts, err := r.Run(j.ctx)
	if err != nil {
		j.logger.Error("async command effect failed, treating as zero events", "error", err)
		j.deliver(effectResult{})
		return
	}
	if len(drafts) == 0 {
		j.deliver(effectResult{})
		return
	}
	j.persist(drafts)
}

// persist appends the command's events to the store (or hands them to the
// loop for local assignment on ephemeral Fish) and reports the outcome.
func (j *Jar) persist(drafts []eventstore.Proposed) {
	tagged := make([]eventstore.Proposed, len(drafts))
	idTags := j.fish.Identity().Tags()
	for i, d := range drafts {
		tags := event.TagSet{}
		for t := range d.Tags {
			tags[t] = struct{}{}
		}
		for t := range idTags {
			tags[t] = struct{}{}
		}
		tagged[i] = eventstore.Proposed{Tags: tags, Payload: d.Payload}
	}

	if j.fish.Ephemeral() {
		j.deliver(effectResult{localDraft: tagged})
		return
	}

	acked, err := j.store.Persist(j.ctx, j.sourceID, tagged)
	if err != nil {
		j.deliver(effectResult{persistErr: err})
		return
	}
	j.deliver(effectResult{acked: acked})
}

func (j *Jar) deliver(res effectResult) {
	select {
	case j.effectCh <- res:
	case <-j.ctx.Done():
	}
}

// settle finishes the in-flight command: the gate is re-armed with the
// per-stream maxima of the emitted events this Fish subscribes to, and
// the completion callback fires exactly once.
func (j *Jar) settle(res effectResult) {
	if j.inflight == nil {
		return
	}

	if res.persistErr != nil {
		j.fail(errors.WrapTransient(res.persistErr, "Jar", "settle", "persist events"))
		return
	}

	acked := res.acked
	if len(res.localDraft) > 0 {
		acked = j.assignLocal(res.localDraft)
	}

	waitFor := event.OffsetMap{}
	for _, ev := range acked {
		if j.fish.Subscription().Matches(ev) {
			waitFor.Update(ev)
		}
	}
	j.waitFor = waitFor

	cmd := j.inflight
	j.inflight = nil
	j.tracker.commandFinished(j.fish.Identity())
	if j.metrics != nil {
		j.metrics.CommandsCompleted.WithLabelValues(j.fish.Identity().Semantics).Inc()
	}
	if cmd.OnComplete != nil {
		cmd.OnComplete()
	}
}

// assignLocal gives an ephemeral Fish's events their locally assigned
// causal order and integrates them immediately, so the gate is already
// satisfied when the command completes.
func (j *Jar) assignLocal(drafts []eventstore.Proposed) []event.Event {
	acked := make([]event.Event, len(drafts))
	now := time.Now()
	for i, d := range drafts {
		j.localLamport++
		acked[i] = event.Event{
			Stream:    j.sourceID,
			Offset:    j.localOffset,
			Lamport:   j.localLamport,
			Timestamp: now,
			Tags:      d.Tags,
			Payload:   d.Payload,
		}
		j.localOffset++
	}
	j.integrate(acked)
	return acked
}

// fail delivers the error to the in-flight command's onError callback.
// The pipeline stays usable: the gate is not re-armed because no events
// were durably produced.
func (j *Jar) fail(err error) {
	cmd := j.inflight
	j.inflight = nil
	j.tracker.commandFinished(j.fish.Identity())
	if j.metrics != nil {
		j.metrics.CommandsFailed.WithLabelValues(j.fish.Identity().Semantics).Inc()
	}
	j.logger.Warn("command failed", "error", err)
	if cmd != nil && cmd.OnError != nil {
		cmd.OnError(err)
	}
}

// integrate folds a live batch into the cache and publishes the new state
// when a recomputation is pending. Integration is independent of the
// command admission gate.
func (j *Jar) integrate(batch []event.Event) {
	id := j.fish.Identity()
	j.tracker.eventsStarted(id)
	defer j.tracker.eventsFinished(id)

	needsState, err := j.cache.ProcessEvents(j.ctx, batch)
	if err != nil {
		// Undecodable or order-violating batches fail the integration
		// step; dropping them silently would break causal order.
		j.lastErr = err
		j.logger.Error("event integration failed", "error", err)
		return
	}
	if !needsState {
		return
	}

	j.publish()
	j.cache.MaybeSnapshot(j.ctx)
}

// publish recomputes and broadcasts the public state. With no subscribers
// the fold is deferred; the cache recomputes lazily when next asked.
func (j *Jar) publish() {
	if j.subject.SubscriberCount() == 0 {
		return
	}
	state, err := j.cache.CurrentState(j.ctx)
	if err != nil {
		j.lastErr = err
		j.logger.Error("state recomputation failed", "error", err)
		return
	}
	j.subject.Publish(state)
	if j.metrics != nil {
		j.metrics.StatePublishes.WithLabelValues(j.fish.Identity().Semantics).Inc()
	}
}

func (j *Jar) updateQueueDepth() {
	if j.metrics != nil {
		j.metrics.CommandQueueDepth.
			WithLabelValues(j.fish.Identity().Semantics).Set(float64(len(j.queue)))
	}
}
