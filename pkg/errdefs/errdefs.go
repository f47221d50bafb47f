package errdefs

import (
	"errors"
	"fmt"
)

// Error kinds used across kubestrap. Every failure surfaced to the user
// wraps exactly one of these sentinels so callers can classify it with
// errors.Is without inspecting message text.
var (
	// ErrConfig indicates invalid or conflicting user input. Nothing has
	// been started when this is returned, so there is nothing to clean up.
	ErrConfig = errors.New("invalid configuration")

	// ErrFilesystem indicates an environment problem with the working
	// directory tree (blocked path, failed creation).
	ErrFilesystem = errors.New("filesystem failure")

	// ErrPermission indicates a permission problem writing protected
	// material such as private keys.
	ErrPermission = errors.New("permission denied")

	// ErrCrypto indicates a PKI generation or issuance failure. Fatal,
	// never retried: it points at a broken environment.
	ErrCrypto = errors.New("crypto failure")

	// ErrDependencyCycle indicates a cycle in the component dependency
	// table. This is a defect in the table, not a transient condition.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrRender indicates that a component configuration could not be
	// rendered from the cluster plan.
	ErrRender = errors.New("render failure")

	// ErrNetwork indicates that host networking (bridge, NAT rules) could
	// not be set up. The cluster cannot function without it.
	ErrNetwork = errors.New("network setup failure")

	// ErrProcessStart indicates a component failed to reach readiness
	// within its retry budget.
	ErrProcessStart = errors.New("process start failure")

	// ErrProbe indicates a liveness probe failure. Tolerated up to a
	// threshold before escalating.
	ErrProbe = errors.New("probe failure")
)

// Wrap annotates err with a kind sentinel and a message.
func Wrap(kind error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s", kind, msg)
}

// WrapErr annotates an underlying error with a kind sentinel and context.
func WrapErr(kind error, err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

func IsConfig(err error) bool          { return errors.Is(err, ErrConfig) }
func IsFilesystem(err error) bool      { return errors.Is(err, ErrFilesystem) }
func IsPermission(err error) bool      { return errors.Is(err, ErrPermission) }
func IsCrypto(err error) bool          { return errors.Is(err, ErrCrypto) }
func IsDependencyCycle(err error) bool { return errors.Is(err, ErrDependencyCycle) }
func IsRender(err error) bool          { return errors.Is(err, ErrRender) }
func IsNetwork(err error) bool         { return errors.Is(err, ErrNetwork) }
func IsProcessStart(err error) bool    { return errors.Is(err, ErrProcessStart) }
func IsProbe(err error) bool           { return errors.Is(err, ErrProbe) }
