package jar

import "sync"

// StateSubject is a multicast broadcast of a Fish's public state. It
// holds the last published value and replays it to new subscribers.
// Delivery is lossy latest-value: a slow subscriber skips intermediate
// states but always converges on the newest one, so publishing never
// blocks the pipeline.
type StateSubject struct {
	mu     sync.Mutex
	last   any
	hasVal bool
	subs   map[int]chan any
	nextID int
	closed bool
}

// NewStateSubject creates a subject with no value yet.
func NewStateSubject() *StateSubject {
	return &StateSubject{subs: make(map[int]chan any)}
}

// Publish replaces the subject's value and notifies all subscribers.
func (s *StateSubject) Publish(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last = v
	s.hasVal = true
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// offer replaces the pending value in a 1-buffered channel.
func offer(ch chan any, v any) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The latest value, if any, is
// delivered immediately. The cancel function must be called to release
// the subscription; the channel is closed on cancel or subject close.
func (s *StateSubject) Subscribe() (<-chan any, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan any, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.hasVal {
		ch <- s.last
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Latest returns the current value and whether one has been published.
func (s *StateSubject) Latest() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasVal
}

// SubscriberCount returns the number of live subscribers.
func (s *StateSubject) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes all subscriber channels. Further publishes are dropped.
func (s *StateSubject) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
