package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
)

var c1 = fish.Identity{Semantics: "counter", Name: "c1"}

func snap(version int, lamport event.LamportTimestamp) Snapshot {
	return Snapshot{
		Identity: c1,
		Version:  version,
		Tag:      TagHour,
		Key:      event.Key{Lamport: lamport, Stream: "s1", Offset: event.Offset(lamport)},
		Offsets:  event.OffsetMap{"s1": event.Offset(lamport)},
		Cycle:    uint64(lamport),
		State:    []byte(`{"n":1}`),
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Store(ctx, snap(1, 10))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Retrieve(ctx, c1, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.LamportTimestamp(10), got.Key.Lamport)

	missing, err := store.Retrieve(ctx, fish.Identity{Semantics: "counter", Name: "other"}, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRetrieveNewestOfVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, l := range []event.LamportTimestamp{10, 30, 20} {
		ok, err := store.Store(ctx, snap(1, l))
		require.NoError(t, err)
		if l == 20 {
			assert.False(t, ok, "older key of same version is rejected")
		}
	}

	got, err := store.Retrieve(ctx, c1, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.LamportTimestamp(30), got.Key.Lamport)
}

func TestStoreRejectsEqualOrNewer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Store(ctx, snap(1, 10))
	require.NoError(t, err)
	require.True(t, ok)

	// Same version, same key: rejected.
	ok, err = store.Store(ctx, snap(1, 10))
	require.NoError(t, err)
	assert.False(t, ok)

	// Newer version already stored: rejected.
	ok, err = store.Store(ctx, snap(2, 50))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Store(ctx, snap(1, 99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewerVersionPurgesOlder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Store(ctx, snap(1, 10))
	require.NoError(t, err)
	_, err = store.Store(ctx, snap(2, 20))
	require.NoError(t, err)

	old, err := store.Retrieve(ctx, c1, 1)
	require.NoError(t, err)
	assert.Nil(t, old, "older version purged on newer store")

	assert.Equal(t, 1, store.Count(c1))
}

func TestInvalidateBoundary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Build distinct snapshots at lamports 10, 20, 30 by storing the
	// newest last (ascending keys are all accepted).
	for _, l := range []event.LamportTimestamp{10, 20, 30} {
		ok, err := store.Store(ctx, snap(1, l))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 3, store.Count(c1))

	// Invalidating at lamport 20 removes keys >= 20, keeps < 20.
	err := store.Invalidate(ctx, c1, event.Key{Lamport: 20, Stream: "s1", Offset: 20})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Count(c1))
	got, err := store.Retrieve(ctx, c1, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.LamportTimestamp(10), got.Key.Lamport)
}

func TestInvalidateAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Store(ctx, snap(1, 10))
	require.NoError(t, err)

	require.NoError(t, store.InvalidateAll(ctx))
	got, err := store.Retrieve(ctx, c1, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecencyTag(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, TagHour, RecencyTag(now.Add(-time.Hour), now))
	assert.Equal(t, TagDay, RecencyTag(now.Add(-48*time.Hour), now))
	assert.Equal(t, TagMonth, RecencyTag(now.Add(-40*24*time.Hour), now))
}

func TestSchedulerEventInterval(t *testing.T) {
	s := Scheduler{EventInterval: 100}

	assert.False(t, s.ShouldSnapshot(0, time.Hour))
	assert.False(t, s.ShouldSnapshot(99, 0))
	assert.True(t, s.ShouldSnapshot(100, 0))
	assert.True(t, s.ShouldSnapshot(5000, 0))
}

func TestSchedulerTimeInterval(t *testing.T) {
	s := Scheduler{EventInterval: 1000, TimeInterval: 30 * time.Minute}

	assert.False(t, s.ShouldSnapshot(1, 29*time.Minute))
	assert.True(t, s.ShouldSnapshot(1, 31*time.Minute))
	assert.False(t, s.ShouldSnapshot(0, time.Hour), "no events, no snapshot")
}

func TestDefaultScheduler(t *testing.T) {
	s := DefaultScheduler()
	assert.Equal(t, 1024, s.EventInterval)
	assert.True(t, s.ShouldSnapshot(1024, 0))
}
