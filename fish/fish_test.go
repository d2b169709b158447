package fish

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
	"github.com/Actyx/Actyx-sub006/subscription"
)

func counterDef() Definition {
	return Definition{
		Identity:     Identity{Semantics: "counter", Name: "c1"},
		InitialState: func() any { return 0 },
		OnEvent: func(state any, ev event.Event) (any, error) {
			var n int
			if err := json.Unmarshal(ev.Payload, &n); err != nil {
				return nil, err
			}
			return state.(int) + n, nil
		},
		OnCommand: func(_ context.Context, _ any, cmd any) (Result, error) {
			data, _ := json.Marshal(cmd)
			return Emit(eventstore.Proposed{Payload: data}), nil
		},
	}
}

func TestNewDefaultsToSelfSubscription(t *testing.T) {
	f, err := New(counterDef())
	require.NoError(t, err)

	self := event.Event{Tags: event.Tags("semantics:counter", "fish:c1")}
	other := event.Event{Tags: event.Tags("semantics:counter", "fish:c2")}

	assert.True(t, f.Subscription().Matches(self))
	assert.False(t, f.Subscription().Matches(other))
	assert.False(t, f.Ephemeral())
	assert.False(t, f.Degenerate())
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing semantics", func(d *Definition) { d.Identity.Semantics = "" }},
		{"missing name", func(d *Definition) { d.Identity.Name = "" }},
		{"missing initial state", func(d *Definition) { d.InitialState = nil }},
		{"missing event handler", func(d *Definition) { d.OnEvent = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := counterDef()
			tt.mutate(&def)
			_, err := New(def)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestExplicitEmptySubscriptionIsDegenerate(t *testing.T) {
	def := counterDef()
	def.Subscriptions = []subscription.Set{subscription.Empty()}

	f, err := New(def)
	require.NoError(t, err)
	assert.True(t, f.Degenerate())
}

func TestNewRejectsEphemeralSubscriptions(t *testing.T) {
	def := counterDef()
	def.Subscriptions = []subscription.Set{subscription.Ephemeral("counter", "c1")}

	_, err := New(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMixedSubscriptions)
}

func TestNewEphemeral(t *testing.T) {
	f, err := NewEphemeral(counterDef())
	require.NoError(t, err)

	assert.True(t, f.Ephemeral())
	assert.True(t, f.Subscription().IsEphemeral())
	assert.True(t, f.Subscription().Matches(
		event.Event{Tags: event.Tags("semantics:counter", "fish:c1")}))
}

func TestNewEphemeralRejectsExplicitSubscriptions(t *testing.T) {
	def := counterDef()
	def.Subscriptions = []subscription.Set{subscription.All()}

	_, err := NewEphemeral(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMixedSubscriptions)
}

func TestRunCommandWithoutHandler(t *testing.T) {
	def := counterDef()
	def.OnCommand = nil
	f, err := New(def)
	require.NoError(t, err)

	_, err = f.RunCommand(context.Background(), 0, "add")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestIdentityTags(t *testing.T) {
	id := Identity{Semantics: "machine", Name: "m1"}
	tags := id.Tags()

	assert.True(t, tags.Has("semantics:machine"))
	assert.True(t, tags.Has("fish:m1"))
	assert.Equal(t, "machine/m1", id.String())
}

func TestResultVariants(t *testing.T) {
	var r Result

	r = EmitNone()
	_, ok := r.(NoEvents)
	assert.True(t, ok)

	r = Emit(eventstore.Proposed{Payload: json.RawMessage(`1`)})
	sync, ok := r.(SyncEvents)
	require.True(t, ok)
	assert.Len(t, sync.Events, 1)

	r = EmitAsync(func(context.Context) ([]eventstore.Proposed, error) { return nil, nil })
	_, ok = r.(AsyncEvents)
	assert.True(t, ok)
}
