// Package subscription implements the algebraic event filter that decides
// which events belong to a Fish.
//
// A Set is one of: match-nothing, match-everything, an OR of explicit
// (semantics, name, stream) entries, or an OR of tag expressions. Sets are
// compiled once at Fish construction into a plain predicate.
//
// Ephemeral sets (self-only, locally ordered) are a distinct variant;
// combining ephemeral and normal subscriptions in one set is rejected at
// construction.
package subscription
