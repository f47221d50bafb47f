// Package types holds the shared entity definitions used across kubestrap:
// component names, lifecycle states, and status snapshots exchanged between
// the supervisor, the run-state store, and the orchestrator.
package types
