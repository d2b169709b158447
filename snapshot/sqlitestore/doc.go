// Package sqlitestore persists Fish state snapshots in a SQLite file.
// It suits deployments that already carry SQLite or want a single-file
// database that ordinary tooling can inspect.
package sqlitestore
