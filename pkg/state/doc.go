// Package state persists the bootstrap run's identity, component statuses
// and lifecycle events in an embedded key/value database, so a run remains
// inspectable after teardown or a crash.
package state
