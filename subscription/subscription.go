package subscription

import (
	"fmt"
	"strings"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
)

// Tag conventions used to carry Fish identity on events. The runtime
// attaches both tags to every event a Fish emits, so that identity-based
// subscriptions reduce to tag matching.
const (
	SemanticsTagPrefix = "semantics:"
	NameTagPrefix      = "fish:"
)

// SemanticsTag returns the identity tag for a semantics value.
func SemanticsTag(semantics string) string {
	return SemanticsTagPrefix + semantics
}

// NameTag returns the identity tag for a Fish name.
func NameTag(name string) string {
	return NameTagPrefix + name
}

// Entry is one explicit subscription: events matching the given semantics,
// name and stream belong to the Fish. Zero-value fields are wildcards.
type Entry struct {
	Semantics string         `json:"semantics,omitempty"`
	Name      string         `json:"name,omitempty"`
	Stream    event.StreamID `json:"stream,omitempty"`
}

func (e Entry) matches(ev event.Event) bool {
	if e.Semantics != "" && !ev.Tags.Has(SemanticsTag(e.Semantics)) {
		return false
	}
	if e.Name != "" && !ev.Tags.Has(NameTag(e.Name)) {
		return false
	}
	if e.Stream != "" && ev.Stream != e.Stream {
		return false
	}
	return true
}

// TagExpr is one tag expression: every listed tag must be present on the
// event. Expressions combine by OR within a Set.
type TagExpr []string

func (te TagExpr) matches(ev event.Event) bool {
	for _, tag := range te {
		if !ev.Tags.Has(tag) {
			return false
		}
	}
	return true
}

type setKind int

const (
	kindEmpty setKind = iota
	kindAll
	kindEntries
	kindTags
)

// Set is a compiled filter over events. The zero value matches nothing.
type Set struct {
	kind      setKind
	entries   []Entry
	tagExprs  []TagExpr
	ephemeral bool
}

// Empty returns the set that matches no event at all.
func Empty() Set {
	return Set{kind: kindEmpty}
}

// All returns the set that matches every event.
func All() Set {
	return Set{kind: kindAll}
}

// Of returns the OR of the given explicit entries. Of() with no entries is
// the empty set; callers wanting the implicit-self default use SelfFor.
func Of(entries ...Entry) Set {
	if len(entries) == 0 {
		return Empty()
	}
	return Set{kind: kindEntries, entries: entries}
}

// WhereTags returns the OR of the given tag expressions.
func WhereTags(exprs ...TagExpr) Set {
	if len(exprs) == 0 {
		return Empty()
	}
	return Set{kind: kindTags, tagExprs: exprs}
}

// SelfFor returns the implicit self-subscription for a Fish identified by
// semantics and name. This is the default for Fish that only react to
// their own commands.
func SelfFor(semantics, name string) Set {
	return Of(Entry{Semantics: semantics, Name: name})
}

// Ephemeral returns the self-only subscription of an ephemeral Fish.
// Events of ephemeral Fish take locally assigned causal order and may
// never be mixed with normal subscriptions.
func Ephemeral(semantics, name string) Set {
	s := SelfFor(semantics, name)
	s.ephemeral = true
	return s
}

// Union combines sets into one OR. Combining an ephemeral set with any
// normal set fails; the error is fatal at Fish construction time.
func Union(sets ...Set) (Set, error) {
	if len(sets) == 0 {
		return Empty(), nil
	}

	anyEphemeral := false
	allEphemeral := true
	for _, s := range sets {
		if s.ephemeral {
			anyEphemeral = true
		} else {
			allEphemeral = false
		}
	}
	if anyEphemeral && !allEphemeral {
		return Set{}, errors.WrapInvalid(
			errors.ErrMixedSubscriptions, "Set", "Union", "combine subscriptions")
	}

	out := Set{ephemeral: anyEphemeral}
	for _, s := range sets {
		switch s.kind {
		case kindEmpty:
			// contributes nothing
		case kindAll:
			return Set{kind: kindAll, ephemeral: anyEphemeral}, nil
		case kindEntries:
			out.entries = append(out.entries, s.entries...)
		case kindTags:
			out.tagExprs = append(out.tagExprs, s.tagExprs...)
		}
	}

	switch {
	case len(out.entries) > 0 && len(out.tagExprs) > 0:
		// Mixed entry/tag unions keep both lists; matching is still OR.
		out.kind = kindEntries
	case len(out.tagExprs) > 0:
		out.kind = kindTags
	case len(out.entries) > 0:
		out.kind = kindEntries
	default:
		out.kind = kindEmpty
	}
	return out, nil
}

// Matches reports whether the event belongs to this set.
func (s Set) Matches(ev event.Event) bool {
	switch s.kind {
	case kindAll:
		return true
	case kindEmpty:
		return false
	}
	for _, e := range s.entries {
		if e.matches(ev) {
			return true
		}
	}
	for _, te := range s.tagExprs {
		if te.matches(ev) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the set matches nothing.
func (s Set) IsEmpty() bool {
	return s.kind == kindEmpty
}

// IsAll reports whether the set matches everything.
func (s Set) IsAll() bool {
	return s.kind == kindAll
}

// IsEphemeral reports whether this is the self-only locally-ordered
// variant.
func (s Set) IsEphemeral() bool {
	return s.ephemeral
}

// String renders the set for logs and diagnostics.
func (s Set) String() string {
	switch s.kind {
	case kindEmpty:
		return "subscription(nothing)"
	case kindAll:
		return "subscription(everything)"
	}
	var parts []string
	for _, e := range s.entries {
		parts = append(parts, fmt.Sprintf("(%s/%s/%s)", e.Semantics, e.Name, e.Stream))
	}
	for _, te := range s.tagExprs {
		parts = append(parts, "tags("+strings.Join(te, "&")+")")
	}
	prefix := "subscription"
	if s.ephemeral {
		prefix = "ephemeral-subscription"
	}
	return prefix + "(" + strings.Join(parts, " | ") + ")"
}
