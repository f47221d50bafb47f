// Package log provides structured logging for kubestrap built on zerolog.
//
// A single global logger is initialized once from the CLI flags. Packages
// derive child loggers with WithComponent so every event carries the name
// of the daemon or subsystem it belongs to.
package log
