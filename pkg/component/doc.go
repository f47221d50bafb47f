/*
Package component defines the closed set of cluster daemon descriptors and
their dependency graph.

Each descriptor knows its dependency edges, how to render a concrete
invocation (argument list plus any configuration files) from the cluster
plan, and how to probe the running daemon. Rendering is a pure function of
(plan, network, issued PKI material); nothing is templated after it.

The registry resolves the graph into a deterministic topological start
order and computes transitive dependents for failure cascades. A cycle in
the table is a defect and is reported as such, naming its members.
*/
package component
