package snapshot

import (
	"context"
	"sync"

	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
)

// MemoryStore keeps snapshots in process memory. Used by tests and by
// hosts that do not want snapshot persistence across restarts.
type MemoryStore struct {
	mu    sync.Mutex
	byIdt map[fish.Identity][]Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byIdt: make(map[fish.Identity][]Snapshot)}
}

// Store persists the snapshot unless an equal-or-newer one exists.
func (m *MemoryStore) Store(_ context.Context, snap Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.byIdt[snap.Identity]
	kept := existing[:0:0]
	for _, s := range existing {
		switch {
		case s.Version > snap.Version:
			// Newer format generation already stored: reject.
			return false, nil
		case s.Version == snap.Version && !s.Key.Before(snap.Key):
			// Equal-or-newer snapshot of the same generation: reject.
			return false, nil
		case s.Version == snap.Version:
			kept = append(kept, s)
		}
		// Older versions are purged by not keeping them.
	}

	m.byIdt[snap.Identity] = append(kept, snap)
	return true, nil
}

// Retrieve returns the newest snapshot at exactly the given version.
func (m *MemoryStore) Retrieve(_ context.Context, identity fish.Identity, version int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Snapshot
	for i := range m.byIdt[identity] {
		s := &m.byIdt[identity][i]
		if s.Version != version {
			continue
		}
		if best == nil || best.Key.Before(s.Key) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

// Invalidate removes every snapshot of the identity with Key >= key.
func (m *MemoryStore) Invalidate(_ context.Context, identity fish.Identity, key event.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.byIdt[identity]
	kept := existing[:0:0]
	for _, s := range existing {
		if s.Key.Before(key) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(m.byIdt, identity)
	} else {
		m.byIdt[identity] = kept
	}
	return nil
}

// InvalidateAll removes every snapshot of every identity.
func (m *MemoryStore) InvalidateAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIdt = make(map[fish.Identity][]Snapshot)
	return nil
}

// Count returns the number of stored snapshots for the identity.
func (m *MemoryStore) Count(identity fish.Identity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byIdt[identity])
}
