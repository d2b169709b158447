// Package fish defines Fish: logical actors whose state is derived from a
// filtered, causally ordered event stream plus local commands.
//
// A Definition bundles the identity, the initial state, the pure event
// reducer, the command handler and the subscription sets. New compiles and
// validates the definition; NewEphemeral builds the self-only,
// locally-ordered variant. The two variants are distinct at construction,
// so the no-mixing rule is enforced before any pipeline exists.
package fish
