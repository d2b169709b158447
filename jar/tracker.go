package jar

import (
	"log/slog"

	"github.com/Actyx/Actyx-sub006/fish"
)

// StateTracker receives paired notifications around each pipeline phase,
// letting a host display aggregate "is anything still converging" status.
// The pipeline treats trackers purely as observers: a panicking tracker
// never affects pipeline correctness.
type StateTracker interface {
	HydrationStarted(id fish.Identity)
	HydrationFinished(id fish.Identity)
	CommandProcessingStarted(id fish.Identity)
	CommandProcessingFinished(id fish.Identity)
	EventsFromOtherSourcesProcessingStarted(id fish.Identity)
	EventsFromOtherSourcesProcessingFinished(id fish.Identity)
}

// NopTracker ignores all notifications.
type NopTracker struct{}

func (NopTracker) HydrationStarted(fish.Identity)                         {}
func (NopTracker) HydrationFinished(fish.Identity)                        {}
func (NopTracker) CommandProcessingStarted(fish.Identity)                 {}
func (NopTracker) CommandProcessingFinished(fish.Identity)                {}
func (NopTracker) EventsFromOtherSourcesProcessingStarted(fish.Identity)  {}
func (NopTracker) EventsFromOtherSourcesProcessingFinished(fish.Identity) {}

// safeTracker isolates the pipeline from tracker failures.
type safeTracker struct {
	inner  StateTracker
	logger *slog.Logger
}

func newSafeTracker(inner StateTracker, logger *slog.Logger) safeTracker {
	if inner == nil {
		inner = NopTracker{}
	}
	return safeTracker{inner: inner, logger: logger}
}

func (t safeTracker) call(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("state tracker panicked", "phase", phase, "panic", r)
		}
	}()
	fn()
}

func (t safeTracker) hydrationStarted(id fish.Identity) {
	t.call("HydrationStarted", func() { t.inner.HydrationStarted(id) })
}

func (t safeTracker) hydrationFinished(id fish.Identity) {
	t.call("HydrationFinished", func() { t.inner.HydrationFinished(id) })
}

func (t safeTracker) commandStarted(id fish.Identity) {
	t.call("CommandProcessingStarted", func() { t.inner.CommandProcessingStarted(id) })
}

func (t safeTracker) commandFinished(id fish.Identity) {
	t.call("CommandProcessingFinished", func() { t.inner.CommandProcessingFinished(id) })
}

func (t safeTracker) eventsStarted(id fish.Identity) {
	t.call("EventsFromOtherSourcesProcessingStarted", func() {
		t.inner.EventsFromOtherSourcesProcessingStarted(id)
	})
}

func (t safeTracker) eventsFinished(id fish.Identity) {
	t.call("EventsFromOtherSourcesProcessingFinished", func() {
		t.inner.EventsFromOtherSourcesProcessingFinished(id)
	})
}
