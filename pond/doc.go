// Package pond hosts Fish pipelines on top of an event store.
//
// A Pond lazily hydrates one pipeline per Fish identity and multiplexes
// observation and command dispatch onto it. It aggregates the per-jar
// lifecycle callbacks into a pond-wide busy/idle view so callers can wait
// for quiescence, e.g. before shutdown or between test phases.
package pond
