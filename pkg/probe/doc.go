/*
Package probe provides the readiness and liveness checks used to supervise
cluster daemons.

Each component declares one Checker, reused for both purposes: during
startup the supervisor polls it until it succeeds (readiness), afterwards
it runs on an interval (liveness). Checkers exist for TCP endpoints, HTTP
and HTTPS health endpoints, the standard gRPC health service (etcd), live
DNS queries (coredns), unix sockets (the container runtime), and log file
patterns as a fallback.

Status folds probe results into a per-component failure budget: a single
failed probe marks a hiccup, only the configured number of consecutive
failures marks the component unhealthy.
*/
package probe
