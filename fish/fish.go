package fish

import (
	"context"
	"fmt"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/subscription"
)

// Identity names a Fish and selects its state-reduction logic. It is
// comparable and used directly as a map key.
type Identity struct {
	Semantics string `json:"semantics"`
	Name      string `json:"name"`
}

// String renders the identity for logs and diagnostics.
func (id Identity) String() string {
	return id.Semantics + "/" + id.Name
}

// Tags returns the identity tags attached to every event this Fish emits.
func (id Identity) Tags() event.TagSet {
	return event.Tags(
		subscription.SemanticsTag(id.Semantics),
		subscription.NameTag(id.Name),
	)
}

// SnapshotCodec serializes Fish state for local snapshots. Version is the
// format generation: bumping it orphans older snapshots.
type SnapshotCodec interface {
	Version() int
	Serialize(state any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Definition describes a Fish before compilation.
type Definition struct {
	// Identity of the Fish. Required.
	Identity Identity

	// InitialState produces the state before any event. Required.
	InitialState func() any

	// OnEvent folds one event into the state. It must be pure; an error
	// marks the event batch as undecodable and fails event integration.
	// Required.
	OnEvent func(state any, ev event.Event) (any, error)

	// OnCommand is invoked with the latest admitted state. Optional for
	// observe-only Fish.
	OnCommand func(ctx context.Context, state any, cmd any) (Result, error)

	// Subscriptions select which events belong to this Fish. They are
	// combined by OR. Nil means the implicit self-subscription; a
	// non-nil list whose union matches nothing selects the degenerate
	// pipeline (commands against static initial state, no replay).
	Subscriptions []subscription.Set

	// Snapshot enables local snapshots of this Fish's state. Optional.
	Snapshot SnapshotCodec
}

// Fish is a compiled, validated definition.
type Fish struct {
	identity      Identity
	initialState  func() any
	onEvent       func(state any, ev event.Event) (any, error)
	onCommand     func(ctx context.Context, state any, cmd any) (Result, error)
	subs          subscription.Set
	codec         SnapshotCodec
	ephemeral     bool
	explicitEmpty bool
}

// New compiles and validates a Fish definition.
func New(def Definition) (*Fish, error) {
	if err := validate(def); err != nil {
		return nil, err
	}

	var subs subscription.Set
	explicitEmpty := false
	if def.Subscriptions == nil {
		subs = subscription.SelfFor(def.Identity.Semantics, def.Identity.Name)
	} else {
		combined, err := subscription.Union(def.Subscriptions...)
		if err != nil {
			return nil, err
		}
		if combined.IsEphemeral() {
			return nil, errors.WrapInvalid(errors.ErrMixedSubscriptions,
				"Fish", "New", "ephemeral subscriptions on a normal Fish")
		}
		subs = combined
		explicitEmpty = combined.IsEmpty()
	}

	return &Fish{
		identity:      def.Identity,
		initialState:  def.InitialState,
		onEvent:       def.OnEvent,
		onCommand:     def.OnCommand,
		subs:          subs,
		codec:         def.Snapshot,
		explicitEmpty: explicitEmpty,
	}, nil
}

// NewEphemeral compiles the ephemeral variant: self-only subscription with
// locally assigned causal order. Explicit subscriptions are rejected.
func NewEphemeral(def Definition) (*Fish, error) {
	if err := validate(def); err != nil {
		return nil, err
	}
	if def.Subscriptions != nil {
		return nil, errors.WrapInvalid(errors.ErrMixedSubscriptions,
			"Fish", "NewEphemeral", "explicit subscriptions on an ephemeral Fish")
	}

	return &Fish{
		identity:     def.Identity,
		initialState: def.InitialState,
		onEvent:      def.OnEvent,
		onCommand:    def.OnCommand,
		subs:         subscription.Ephemeral(def.Identity.Semantics, def.Identity.Name),
		codec:        def.Snapshot,
		ephemeral:    true,
	}, nil
}

func validate(def Definition) error {
	if def.Identity.Semantics == "" || def.Identity.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Fish", "New", "incomplete identity")
	}
	if def.InitialState == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Fish", "New",
			fmt.Sprintf("fish %s has no initial state", def.Identity))
	}
	if def.OnEvent == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Fish", "New",
			fmt.Sprintf("fish %s has no event handler", def.Identity))
	}
	return nil
}

// Identity returns the Fish's identity.
func (f *Fish) Identity() Identity { return f.identity }

// Subscription returns the compiled subscription set.
func (f *Fish) Subscription() subscription.Set { return f.subs }

// InitialState produces a fresh initial state value.
func (f *Fish) InitialState() any { return f.initialState() }

// ApplyEvent folds one event into the state.
func (f *Fish) ApplyEvent(state any, ev event.Event) (any, error) {
	return f.onEvent(state, ev)
}

// RunCommand invokes the command handler with the latest admitted state.
func (f *Fish) RunCommand(ctx context.Context, state any, cmd any) (Result, error) {
	if f.onCommand == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Fish", "RunCommand",
			fmt.Sprintf("fish %s has no command handler", f.identity))
	}
	return f.onCommand(ctx, state, cmd)
}

// Codec returns the snapshot codec, or nil when snapshots are disabled.
func (f *Fish) Codec() SnapshotCodec { return f.codec }

// Ephemeral reports whether this is the locally-ordered self-only variant.
func (f *Fish) Ephemeral() bool { return f.ephemeral }

// Degenerate reports whether the Fish explicitly subscribes to nothing,
// selecting the fast path without replay or live integration.
func (f *Fish) Degenerate() bool { return f.explicitEmpty }
