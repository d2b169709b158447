// Package badgerstore persists Fish state snapshots in an embedded
// Badger database. It is the default durable snapshot backend for single
// node deployments: no external service, microsecond reads, and the
// whole database lives under one directory.
package badgerstore
