package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventOrdering(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Event
		before bool
	}{
		{
			name:   "lower lamport wins",
			a:      Event{Stream: "b", Lamport: 1},
			b:      Event{Stream: "a", Lamport: 2},
			before: true,
		},
		{
			name:   "stream breaks lamport tie",
			a:      Event{Stream: "a", Lamport: 5},
			b:      Event{Stream: "b", Lamport: 5},
			before: true,
		},
		{
			name:   "equal keys are not before",
			a:      Event{Stream: "a", Lamport: 5},
			b:      Event{Stream: "a", Lamport: 5},
			before: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.before, tt.a.Before(tt.b))
		})
	}
}

func TestSortBatch(t *testing.T) {
	batch := []Event{
		{Stream: "b", Lamport: 3, Offset: 0},
		{Stream: "a", Lamport: 1, Offset: 0},
		{Stream: "a", Lamport: 3, Offset: 1},
		{Stream: "c", Lamport: 2, Offset: 0},
	}

	SortBatch(batch)

	require.Len(t, batch, 4)
	assert.Equal(t, LamportTimestamp(1), batch[0].Lamport)
	assert.Equal(t, LamportTimestamp(2), batch[1].Lamport)
	assert.Equal(t, StreamID("a"), batch[2].Stream, "stream id breaks the lamport tie")
	assert.Equal(t, StreamID("b"), batch[3].Stream)
}

func TestOffsetMapMonotonic(t *testing.T) {
	om := OffsetMap{}

	om.Update(Event{Stream: "s1", Offset: 5})
	om.Update(Event{Stream: "s1", Offset: 3})
	assert.Equal(t, Offset(5), om["s1"], "offset map never moves backward")

	om.Update(Event{Stream: "s1", Offset: 9})
	assert.Equal(t, Offset(9), om["s1"])
}

func TestOffsetMapContains(t *testing.T) {
	om := OffsetMap{"s1": 5}

	assert.True(t, om.Contains(Event{Stream: "s1", Offset: 5}))
	assert.True(t, om.Contains(Event{Stream: "s1", Offset: 0}))
	assert.False(t, om.Contains(Event{Stream: "s1", Offset: 6}))
	assert.False(t, om.Contains(Event{Stream: "s2", Offset: 0}))
}

func TestOffsetMapHasAll(t *testing.T) {
	om := OffsetMap{"s1": 5, "s2": 2}

	assert.True(t, om.HasAll(OffsetMap{}))
	assert.True(t, om.HasAll(OffsetMap{"s1": 5}))
	assert.True(t, om.HasAll(OffsetMap{"s1": 3, "s2": 2}))
	assert.False(t, om.HasAll(OffsetMap{"s1": 6}))
	assert.False(t, om.HasAll(OffsetMap{"s3": 0}))
}

func TestOffsetMapUnion(t *testing.T) {
	om := OffsetMap{"s1": 5, "s2": 2}
	om.Union(OffsetMap{"s1": 3, "s2": 7, "s3": 1})

	assert.Equal(t, OffsetMap{"s1": 5, "s2": 7, "s3": 1}, om)
}

func TestOffsetMapCopyIsIndependent(t *testing.T) {
	om := OffsetMap{"s1": 1}
	cp := om.Copy()
	cp["s1"] = 9

	assert.Equal(t, Offset(1), om["s1"])
}

func TestKeyOrdering(t *testing.T) {
	a := Key{Lamport: 1, Stream: "b"}
	b := Key{Lamport: 1, Stream: "c"}
	c := Key{Lamport: 2, Stream: "a"}

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.True(t, ZeroKey.Before(a))
	assert.False(t, a.Before(a))
}

func TestTagSetJSONRoundTrip(t *testing.T) {
	ts := Tags("machine:m1", "article")

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `["article","machine:m1"]`, string(data))

	var back TagSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Has("article"))
	assert.True(t, back.Has("machine:m1"))
	assert.False(t, back.Has("other"))
}
