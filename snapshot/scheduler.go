package snapshot

import "time"

// Scheduler decides, from the shape of incoming event chunks, when a new
// local snapshot is worth computing. It caps how many events must be
// re-folded after the nearest snapshot.
type Scheduler struct {
	// EventInterval triggers a snapshot every N folded events.
	EventInterval int
	// TimeInterval triggers a snapshot once this much time passed since
	// the last one and at least one event was folded. Zero disables the
	// time trigger.
	TimeInterval time.Duration
}

// DefaultScheduler snapshots every 1024 events or every 30 minutes.
func DefaultScheduler() Scheduler {
	return Scheduler{
		EventInterval: 1024,
		TimeInterval:  30 * time.Minute,
	}
}

// ShouldSnapshot reports whether a new snapshot is due.
func (s Scheduler) ShouldSnapshot(eventsSinceLast int, elapsed time.Duration) bool {
	if eventsSinceLast <= 0 {
		return false
	}
	if s.EventInterval > 0 && eventsSinceLast >= s.EventInterval {
		return true
	}
	return s.TimeInterval > 0 && elapsed >= s.TimeInterval
}
