// Package pgstore persists the event log in PostgreSQL. A BIGSERIAL
// column assigns lamport timestamps, per-stream advisory locks keep
// offsets dense, and live subscriptions poll the tail of the table.
package pgstore
