package supervisor

import (
	"context"
	"time"

	"github.com/cuemby/kubestrap/pkg/component"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/log"
	"github.com/cuemby/kubestrap/pkg/metrics"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

// monitor is the per-component liveness loop, started once a component
// reaches Ready. Probes run sequentially: a new probe never starts while
// the previous one is in flight. The loop ends when the component fails,
// its process exits, or StopAll cancels monitoring.
func (s *Supervisor) monitor(d *component.Descriptor, proc *Process, checker probe.Checker) {
	defer s.monitorWG.Done()

	logger := log.WithComponent(d.Name)
	status := probe.NewStatus()
	cfg := probe.Config{
		Interval:  s.tunables.ProbeInterval,
		Timeout:   s.tunables.ProbeTimeout,
		Threshold: s.tunables.FailureThreshold,
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.monitorCtx.Done():
			return

		case <-proc.Exited():
			// StopAll cancels monitoring before signaling, and a cascade
			// stop moves the component to Stopping first. Reaching here in
			// any other state means the daemon died on its own.
			select {
			case <-s.monitorCtx.Done():
				return
			default:
			}
			if st, ok := s.Status(d.Name); ok && (st.State == types.StateStopping || st.State.Terminal()) {
				return
			}
			s.failComponent(d.Name, errdefs.Wrap(errdefs.ErrProbe,
				"%s: exited unexpectedly (%v), see %s", d.Name, proc.ExitErr(), proc.LogPath()))
			return

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(s.monitorCtx, cfg.Timeout)
			result := checker.Check(probeCtx)
			cancel()

			if s.monitorCtx.Err() != nil {
				return
			}
			status.Update(result, cfg)
			s.recordProbe(d.Name, result, status)

			switch {
			case !status.Healthy:
				s.failComponent(d.Name, errdefs.Wrap(errdefs.ErrProbe,
					"%s: %d consecutive probe failures: %s", d.Name, status.ConsecutiveFailures, result.Message))
				return

			case status.ConsecutiveFailures > 0:
				metrics.ProbeFailuresTotal.WithLabelValues(d.Name).Inc()
				logger.Warn().
					Int("failures", status.ConsecutiveFailures).
					Str("reason", result.Message).
					Msg("probe failed")
				s.transition(d.Name, types.StateDegraded, nil)

			default:
				if st, ok := s.Status(d.Name); ok && st.State == types.StateDegraded {
					logger.Info().Msg("probe recovered")
					s.transition(d.Name, types.StateReady, nil)
				}
			}
		}
	}
}

// recordProbe folds the latest probe result into the component status.
func (s *Supervisor) recordProbe(name string, result probe.Result, status *probe.Status) {
	s.mu.Lock()
	st := s.statuses[name]
	st.LastProbeAt = result.CheckedAt
	st.LastProbeOK = result.Healthy
	st.Failures = status.ConsecutiveFailures
	s.mu.Unlock()
}
