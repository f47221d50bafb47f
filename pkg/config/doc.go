/*
Package config derives the immutable cluster plan for a kubestrap run.

The planner combines user overrides (CIDRs, root directory, node count)
with host facts (CPU count, hostname) and validates them as a whole:
subnets must be disjoint and large enough for the configured node count,
ports must be unique, and the host must have enough CPUs to run every
daemon concurrently.

The resulting ClusterPlan is computed once, persisted to
<root>/cluster.yaml, and treated as read-only by every other package.
All file paths, ports, and addresses used by rendered component configs
are derived from it, so nothing in the cluster allocates dynamically.
*/
package config
