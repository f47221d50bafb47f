/*
Package orchestrator ties the whole bootstrap together.

Run executes one cluster lifecycle: plan and validate the configuration,
lay out the root directory, initialize the PKI and issue every identity,
compute and apply the pod network, then hand the component graph to the
supervisor. Once the cluster is ready it either drops the user into an
interactive shell or waits for a signal; either way it always ends in the
same idempotent teardown, preserving certificates, logs and the state
database while removing run-only artifacts.
*/
package orchestrator
