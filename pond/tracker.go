package pond

import (
	"context"
	"sort"
	"sync"

	"github.com/Actyx/Actyx-sub006/fish"
)

// State is a point-in-time view of which Fish are currently busy, broken
// down by pipeline phase.
type State struct {
	Hydrating   []string `json:"hydrating"`
	Commanding  []string `json:"commanding"`
	Integrating []string `json:"integrating"`
}

// Quiet reports whether no Fish is busy in any phase.
func (s State) Quiet() bool {
	return len(s.Hydrating) == 0 && len(s.Commanding) == 0 && len(s.Integrating) == 0
}

// activityTracker aggregates the per-jar lifecycle callbacks into a
// pond-wide busy/idle view. It satisfies jar.StateTracker.
type activityTracker struct {
	mu          sync.Mutex
	hydrating   map[fish.Identity]int
	commanding  map[fish.Identity]int
	integrating map[fish.Identity]int
	waiters     []chan struct{}
}

func newActivityTracker() *activityTracker {
	return &activityTracker{
		hydrating:   make(map[fish.Identity]int),
		commanding:  make(map[fish.Identity]int),
		integrating: make(map[fish.Identity]int),
	}
}

func (t *activityTracker) enter(m map[fish.Identity]int, id fish.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m[id]++
}

func (t *activityTracker) leave(m map[fish.Identity]int, id fish.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m[id] <= 1 {
		delete(m, id)
	} else {
		m[id]--
	}
	if t.quietLocked() {
		for _, ch := range t.waiters {
			close(ch)
		}
		t.waiters = nil
	}
}

func (t *activityTracker) quietLocked() bool {
	return len(t.hydrating) == 0 && len(t.commanding) == 0 && len(t.integrating) == 0
}

func (t *activityTracker) HydrationStarted(id fish.Identity)  { t.enter(t.hydrating, id) }
func (t *activityTracker) HydrationFinished(id fish.Identity) { t.leave(t.hydrating, id) }

func (t *activityTracker) CommandProcessingStarted(id fish.Identity)  { t.enter(t.commanding, id) }
func (t *activityTracker) CommandProcessingFinished(id fish.Identity) { t.leave(t.commanding, id) }

func (t *activityTracker) EventsFromOtherSourcesProcessingStarted(id fish.Identity) {
	t.enter(t.integrating, id)
}

func (t *activityTracker) EventsFromOtherSourcesProcessingFinished(id fish.Identity) {
	t.leave(t.integrating, id)
}

// State returns the current busy sets, sorted for stable output.
func (t *activityTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Hydrating:   names(t.hydrating),
		Commanding:  names(t.commanding),
		Integrating: names(t.integrating),
	}
}

// WaitQuiet blocks until no Fish is busy or the context ends. A pond that
// is already quiet returns immediately.
func (t *activityTracker) WaitQuiet(ctx context.Context) error {
	t.mu.Lock()
	if t.quietLocked() {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func names(m map[fish.Identity]int) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}
