package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// SocketChecker probes a unix domain socket. Used for the container
// runtime, which serves its API on a socket rather than a TCP port.
type SocketChecker struct {
	// Path is the unix socket path
	Path string

	// Timeout is the connection timeout
	Timeout time.Duration
}

// NewSocketChecker creates a unix socket probe
func NewSocketChecker(path string) *SocketChecker {
	return &SocketChecker{
		Path:    path,
		Timeout: 3 * time.Second,
	}
}

// Check performs the socket probe
func (s *SocketChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if _, err := os.Stat(s.Path); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("socket missing: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	dialer := &net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.Path)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("socket %s accepting connections", s.Path),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (s *SocketChecker) Type() CheckType {
	return CheckTypeSocket
}
