// Package metrics exposes the Prometheus instrumentation for the
// bootstrapper: component lifecycle states, start latencies, probe failures
// and whole-cluster bootstrap duration. Metrics are package-level and
// registered at init; Handler serves them over HTTP.
package metrics
