package probe

import (
	"context"
	"time"
)

// CheckType represents the type of probe
type CheckType string

const (
	CheckTypeHTTP       CheckType = "http"
	CheckTypeTCP        CheckType = "tcp"
	CheckTypeGRPC       CheckType = "grpc"
	CheckTypeDNS        CheckType = "dns"
	CheckTypeSocket     CheckType = "socket"
	CheckTypeLogPattern CheckType = "log-pattern"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all probes implement. The same checker serves
// both as readiness predicate during startup and liveness probe afterwards.
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the probe type
	Type() CheckType
}

// Config contains common probing parameters
type Config struct {
	// Interval is the time between liveness probes
	Interval time.Duration

	// Timeout is the maximum time a single probe may take
	Timeout time.Duration

	// Threshold is the number of consecutive failures before a component
	// is considered failed
	Threshold int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Second,
		Timeout:   3 * time.Second,
		Threshold: 3,
	}
}

// Status tracks the probe history of one component
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed probes
	ConsecutiveFailures int

	// LastCheck is the timestamp of the last probe
	LastCheck time.Time

	// LastResult is the result of the last probe
	LastResult Result

	// Healthy indicates whether the component is within its failure budget
	Healthy bool
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a probe result into the status. Healthy flips to false only
// when the consecutive failure count reaches the configured threshold, so a
// single transient failure never kills a component.
func (s *Status) Update(result Result, cfg Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= cfg.Threshold {
		s.Healthy = false
	}
}
