// Package metric provides Prometheus-based metrics for the pond runtime.
//
// A Registry owns a private Prometheus registry pre-loaded with the core
// runtime metrics (hydrations, command throughput, event integration,
// snapshot activity) plus the Go runtime collectors. Hosts expose it via
// Handler and may register their own collectors alongside.
package metric
