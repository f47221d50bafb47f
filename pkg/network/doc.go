/*
Package network computes and applies the single-host network wiring for a
cluster run: per-node pod subnets carved from the cluster CIDR, the CNI
bridge configuration consumed by the container runtime, the well-known
cluster DNS address, and the iptables NAT/forward rules that give pods
connectivity to each other and the internet.

Planning is a pure function of the cluster plan and is unit-testable;
Apply and Teardown perform the actual host mutations.
*/
package network
