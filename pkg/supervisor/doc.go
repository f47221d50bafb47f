/*
Package supervisor owns the lifetime of every cluster daemon.

StartAll brings components up concurrently, each waiting only for its
declared dependencies to reach Ready, with bounded retries per component.
Every running daemon gets a liveness loop that probes it at a fixed
interval; consecutive failures degrade and eventually fail the component,
and a failure cascades a stop through its transitive dependents before the
failure event is published.

StopAll is the single teardown path, idempotent and in reverse start
order: SIGTERM, a grace period, SIGKILL. The supervisor always reaps what
it spawned.
*/
package supervisor
