package eventstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
)

// NewStreamID mints a fresh stream identity for a local event source.
func NewStreamID() event.StreamID {
	return event.StreamID(uuid.NewString())
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithChunkSize sets the maximum batch size for Query replay.
func WithChunkSize(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.clock = clock
	}
}

// MemoryStore is the in-process event log. It owns the lamport clock,
// assigns offsets per stream, and fans persisted events out to live
// subscribers. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	streams   map[event.StreamID][]event.Event
	lamport   event.LamportTimestamp
	subs      map[int]*memSubscriber
	nextSubID int
	closed    bool

	chunkSize int
	clock     func() time.Time
	logger    *slog.Logger
}

// NewMemoryStore creates an empty in-process event log.
func NewMemoryStore(logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemoryStore{
		streams:   make(map[event.StreamID][]event.Event),
		subs:      make(map[int]*memSubscriber),
		chunkSize: 256,
		clock:     time.Now,
		logger:    logger.With("component", "MemoryStore"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Present returns the per-stream high-water marks.
func (m *MemoryStore) Present(_ context.Context) (event.OffsetMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.ErrStoreUnavailable
	}

	present := make(event.OffsetMap, len(m.streams))
	for stream, events := range m.streams {
		if len(events) > 0 {
			present[stream] = events[len(events)-1].Offset
		}
	}
	return present, nil
}

// Persist appends proposed events to the stream, assigning offsets and
// lamport timestamps, and fans them out to matching subscribers before
// returning the acknowledgement.
func (m *MemoryStore) Persist(_ context.Context, stream event.StreamID, proposed []Proposed) ([]event.Event, error) {
	if stream == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidEvent, "MemoryStore", "Persist", "empty stream id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.ErrStoreUnavailable
	}

	acked := make([]event.Event, 0, len(proposed))
	for _, p := range proposed {
		m.lamport++
		ev := event.Event{
			Stream:    stream,
			Offset:    event.Offset(len(m.streams[stream])),
			Lamport:   m.lamport,
			Timestamp: m.clock(),
			Tags:      p.Tags,
			Payload:   p.Payload,
		}
		m.streams[stream] = append(m.streams[stream], ev)
		acked = append(acked, ev)
	}

	for _, sub := range m.subs {
		var batch []event.Event
		for _, ev := range acked {
			if sub.filter.Matches(ev) {
				batch = append(batch, ev)
			}
		}
		if len(batch) > 0 {
			sub.enqueue(batch)
		}
	}

	return acked, nil
}

// Query replays stored events with offsets in (from, to] matching the
// filter, chunked into batches. The cursor closes when the range is
// exhausted or ctx is done.
func (m *MemoryStore) Query(ctx context.Context, from, to event.OffsetMap, filter Filter, order Order) (*Cursor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.ErrStoreUnavailable
	}
	matched := m.collectLocked(from, to, filter)
	m.mu.Unlock()

	if order == OrderDesc {
		sort.SliceStable(matched, func(i, j int) bool { return matched[j].Before(matched[i]) })
	} else {
		event.SortBatch(matched)
	}

	cur, out, _ := NewCursor(0)
	go func() {
		defer close(out)
		for start := 0; start < len(matched); start += m.chunkSize {
			end := start + m.chunkSize
			if end > len(matched) {
				end = len(matched)
			}
			select {
			case out <- matched[start:end:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return cur, nil
}

// Subscribe delivers stored events past from, then every future matching
// event. Registration and catch-up collection happen atomically, so no
// event is missed or duplicated across the boundary.
func (m *MemoryStore) Subscribe(ctx context.Context, filter Filter, from event.OffsetMap) (*Cursor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.ErrStoreUnavailable
	}

	catchUp := m.collectLocked(from, nil, filter)
	event.SortBatch(catchUp)

	sub := &memSubscriber{
		filter: filter,
		out:    make(chan []event.Event),
		signal: make(chan struct{}, 1),
	}
	if len(catchUp) > 0 {
		sub.enqueue(catchUp)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.signal:
			}
			for {
				batch := sub.dequeue()
				if batch == nil {
					break
				}
				select {
				case sub.out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Cursor{C: sub.out}, nil
}

// Close rejects all further operations. Live subscriber channels stay
// open until their contexts are cancelled.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// collectLocked gathers stored events with offsets in (from, to] matching
// the filter. A nil to means no upper bound. Caller holds m.mu.
func (m *MemoryStore) collectLocked(from, to event.OffsetMap, filter Filter) []event.Event {
	var matched []event.Event
	for stream, events := range m.streams {
		lower := event.Offset(-1)
		if o, ok := from[stream]; ok {
			lower = o
		}
		upper := event.Offset(-1)
		hasUpper := false
		if to != nil {
			if o, ok := to[stream]; ok {
				upper = o
				hasUpper = true
			} else {
				continue // stream not covered by upper bound
			}
		}
		for _, ev := range events {
			if ev.Offset <= lower {
				continue
			}
			if hasUpper && ev.Offset > upper {
				break
			}
			if filter == nil || filter.Matches(ev) {
				matched = append(matched, ev)
			}
		}
	}
	return matched
}

// memSubscriber buffers fan-out batches without ever blocking Persist.
type memSubscriber struct {
	filter  Filter
	out     chan []event.Event
	mu      sync.Mutex
	pending [][]event.Event
	signal  chan struct{}
}

func (s *memSubscriber) enqueue(batch []event.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, batch)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *memSubscriber) dequeue() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending[0]
	s.pending = s.pending[1:]
	return batch
}
