package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snap(id fish.Identity, version int, lamport event.LamportTimestamp, state string) snapshot.Snapshot {
	return snapshot.Snapshot{
		Identity: id,
		Version:  version,
		Tag:      snapshot.TagHour,
		Key:      event.Key{Lamport: lamport, Stream: "s1", Offset: event.Offset(lamport)},
		Offsets:  event.OffsetMap{"s1": event.Offset(lamport)},
		Cycle:    uint64(lamport),
		State:    []byte(state),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := fish.Identity{Semantics: "counter", Name: "a"}

	in := snap(id, 1, 5, `5`)
	horizon := event.Key{Lamport: 1, Stream: "s0", Offset: 0}
	in.Horizon = &horizon

	ok, err := s.Store(ctx, in)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.Key, got.Key)
	assert.Equal(t, in.Offsets, got.Offsets)
	assert.Equal(t, in.State, got.State)
	assert.Equal(t, in.Cycle, got.Cycle)
	require.NotNil(t, got.Horizon)
	assert.Equal(t, horizon, *got.Horizon)

	missing, err := s.Retrieve(ctx, id, 2)
	require.NoError(t, err)
	assert.Nil(t, missing, "other versions are not substituted")
}

func TestStoreRejectsEqualOrNewer(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := fish.Identity{Semantics: "counter", Name: "a"}

	ok, err := s.Store(ctx, snap(id, 1, 5, "a"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Store(ctx, snap(id, 1, 5, "b"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Store(ctx, snap(id, 1, 3, "c"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Store(ctx, snap(id, 1, 8, "d"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.LamportTimestamp(8), got.Key.Lamport)
}

func TestStoreNewVersionPurgesOld(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := fish.Identity{Semantics: "counter", Name: "a"}

	_, err := s.Store(ctx, snap(id, 1, 9, "old"))
	require.NoError(t, err)

	ok, err := s.Store(ctx, snap(id, 2, 3, "new"))
	require.NoError(t, err)
	require.True(t, ok)

	old, err := s.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	assert.Nil(t, old)

	ok, err = s.Store(ctx, snap(id, 1, 20, "stale"))
	require.NoError(t, err)
	assert.False(t, ok, "purged generation stays rejected")
}

func TestInvalidateRemovesAtOrAfterKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := fish.Identity{Semantics: "counter", Name: "a"}
	other := fish.Identity{Semantics: "counter", Name: "b"}

	for _, l := range []event.LamportTimestamp{2, 4, 6} {
		_, err := s.Store(ctx, snap(id, 1, l, "x"))
		require.NoError(t, err)
	}
	_, err := s.Store(ctx, snap(other, 1, 4, "y"))
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(ctx, id, event.Key{Lamport: 4, Stream: "s1", Offset: 4}))

	got, err := s.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.LamportTimestamp(2), got.Key.Lamport)

	kept, err := s.Retrieve(ctx, other, 1)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := fish.Identity{Semantics: "counter", Name: "a"}

	_, err := s.Store(ctx, snap(id, 1, 2, "x"))
	require.NoError(t, err)
	require.NoError(t, s.InvalidateAll(ctx))

	got, err := s.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	id := fish.Identity{Semantics: "counter", Name: "a"}

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Store(ctx, snap(id, 1, 7, "persisted"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Retrieve(ctx, id, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("persisted"), got.State)
}
