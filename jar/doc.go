// Package jar implements the per-Fish pipeline: hydration, live event
// integration, command admission and the public state subject.
//
// A Jar owns exactly one Fish. A single driving goroutine serializes
// everything that touches the Fish's state cache: live event batches,
// command admission and disposal. Commands are admitted one at a time,
// and only once every offset the Fish is still owed from its previous
// command has been observed (the waitFor gate). Event integration is
// never gated; it proceeds while a command's asynchronous effect is
// suspended.
//
// The state cache (Cache) is exclusively owned by its Jar; no external
// caller mutates it directly.
package jar
