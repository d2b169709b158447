package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actyx/Actyx-sub006/event"
)

func testStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	return NewMemoryStore(slog.New(slog.NewTextHandler(testWriter{t}, nil)), opts...)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func payload(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func matchAll() Filter {
	return FilterFunc(func(event.Event) bool { return true })
}

func TestPersistAssignsOffsetsAndLamports(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	acked, err := store.Persist(ctx, "s1", []Proposed{
		{Payload: payload(1)},
		{Payload: payload(2)},
	})
	require.NoError(t, err)
	require.Len(t, acked, 2)

	assert.Equal(t, event.Offset(0), acked[0].Offset)
	assert.Equal(t, event.Offset(1), acked[1].Offset)
	assert.Less(t, acked[0].Lamport, acked[1].Lamport)

	acked2, err := store.Persist(ctx, "s2", []Proposed{{Payload: payload(3)}})
	require.NoError(t, err)
	assert.Equal(t, event.Offset(0), acked2[0].Offset, "offsets are per stream")
	assert.Greater(t, acked2[0].Lamport, acked[1].Lamport, "lamport clock is store-wide")
}

func TestPersistRejectsEmptyStream(t *testing.T) {
	store := testStore(t)
	_, err := store.Persist(context.Background(), "", []Proposed{{Payload: payload(1)}})
	require.Error(t, err)
}

func TestPresent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	present, err := store.Present(ctx)
	require.NoError(t, err)
	assert.Empty(t, present)

	_, err = store.Persist(ctx, "s1", []Proposed{{Payload: payload(1)}, {Payload: payload(2)}})
	require.NoError(t, err)
	_, err = store.Persist(ctx, "s2", []Proposed{{Payload: payload(3)}})
	require.NoError(t, err)

	present, err = store.Present(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.OffsetMap{"s1": 1, "s2": 0}, present)
}

func collect(t *testing.T, cur *Cursor) []event.Event {
	t.Helper()
	var all []event.Event
	for batch := range cur.C {
		all = append(all, batch...)
	}
	require.NoError(t, cur.Err())
	return all
}

func TestQueryRange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Persist(ctx, "s1", []Proposed{{Payload: payload(i)}})
		require.NoError(t, err)
	}

	// (from, to] semantics: offsets 2 and 3.
	cur, err := store.Query(ctx, event.OffsetMap{"s1": 1}, event.OffsetMap{"s1": 3}, matchAll(), OrderAsc)
	require.NoError(t, err)
	events := collect(t, cur)

	require.Len(t, events, 2)
	assert.Equal(t, event.Offset(2), events[0].Offset)
	assert.Equal(t, event.Offset(3), events[1].Offset)
}

func TestQueryDescending(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Persist(ctx, "s1", []Proposed{{Payload: payload(i)}})
		require.NoError(t, err)
	}

	cur, err := store.Query(ctx, nil, event.OffsetMap{"s1": 2}, matchAll(), OrderDesc)
	require.NoError(t, err)
	events := collect(t, cur)

	require.Len(t, events, 3)
	assert.Equal(t, event.Offset(2), events[0].Offset)
	assert.Equal(t, event.Offset(0), events[2].Offset)
}

func TestQueryUpperBoundExcludesUncoveredStreams(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Persist(ctx, "s1", []Proposed{{Payload: payload(1)}})
	require.NoError(t, err)
	_, err = store.Persist(ctx, "s2", []Proposed{{Payload: payload(2)}})
	require.NoError(t, err)

	cur, err := store.Query(ctx, nil, event.OffsetMap{"s1": 0}, matchAll(), OrderAsc)
	require.NoError(t, err)
	events := collect(t, cur)

	require.Len(t, events, 1)
	assert.Equal(t, event.StreamID("s1"), events[0].Stream)
}

func TestQueryChunking(t *testing.T) {
	store := testStore(t, WithChunkSize(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Persist(ctx, "s1", []Proposed{{Payload: payload(i)}})
		require.NoError(t, err)
	}

	cur, err := store.Query(ctx, nil, event.OffsetMap{"s1": 4}, matchAll(), OrderAsc)
	require.NoError(t, err)

	var sizes []int
	for batch := range cur.C {
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestSubscribeDeliversLiveEvents(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cur, err := store.Subscribe(ctx, matchAll(), nil)
	require.NoError(t, err)

	_, err = store.Persist(ctx, "s1", []Proposed{{Payload: payload(42)}})
	require.NoError(t, err)

	select {
	case batch := <-cur.C:
		require.Len(t, batch, 1)
		assert.Equal(t, event.Offset(0), batch[0].Offset)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeCatchUpThenLive(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Persist(ctx, "s1", []Proposed{{Payload: payload(1)}, {Payload: payload(2)}})
	require.NoError(t, err)

	// Subscribe from offset 0: catch-up must deliver offset 1 only.
	cur, err := store.Subscribe(ctx, matchAll(), event.OffsetMap{"s1": 0})
	require.NoError(t, err)

	select {
	case batch := <-cur.C:
		require.Len(t, batch, 1)
		assert.Equal(t, event.Offset(1), batch[0].Offset)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for catch-up batch")
	}

	_, err = store.Persist(ctx, "s1", []Proposed{{Payload: payload(3)}})
	require.NoError(t, err)

	select {
	case batch := <-cur.C:
		require.Len(t, batch, 1)
		assert.Equal(t, event.Offset(2), batch[0].Offset)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live batch")
	}
}

func TestSubscribeFilter(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	only := FilterFunc(func(ev event.Event) bool { return ev.Tags.Has("keep") })
	cur, err := store.Subscribe(ctx, only, nil)
	require.NoError(t, err)

	_, err = store.Persist(ctx, "s1", []Proposed{
		{Tags: event.Tags("drop"), Payload: payload(1)},
		{Tags: event.Tags("keep"), Payload: payload(2)},
	})
	require.NoError(t, err)

	select {
	case batch := <-cur.C:
		require.Len(t, batch, 1)
		assert.True(t, batch[0].Tags.Has("keep"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filtered batch")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	cur, err := store.Subscribe(ctx, matchAll(), nil)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-cur.C:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := testStore(t)
	store.Close()

	_, err := store.Present(context.Background())
	assert.Error(t, err)
	_, err = store.Persist(context.Background(), "s1", []Proposed{{Payload: payload(1)}})
	assert.Error(t, err)
}

func TestNewStreamIDUnique(t *testing.T) {
	assert.NotEqual(t, NewStreamID(), NewStreamID())
}
