package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/kubestrap/pkg/component"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/log"
	"github.com/cuemby/kubestrap/pkg/metrics"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

// Tunables bound the supervisor's timing behavior. Zero values are replaced
// by DefaultTunables.
type Tunables struct {
	// ProbeInterval is the delay between liveness probes once Ready.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// FailureThreshold is the consecutive probe failure count that turns
	// Degraded into Failed.
	FailureThreshold int

	// StartAttempts is how many times a component start is tried before
	// the whole bootstrap is declared failed.
	StartAttempts int

	// RetryBackoff is the pause between start attempts.
	RetryBackoff time.Duration

	// StopGrace is how long a SIGTERM'd process gets before SIGKILL.
	StopGrace time.Duration
}

// DefaultTunables returns the production timing profile.
func DefaultTunables() Tunables {
	return Tunables{
		ProbeInterval:    5 * time.Second,
		ProbeTimeout:     3 * time.Second,
		FailureThreshold: 3,
		StartAttempts:    3,
		RetryBackoff:     2 * time.Second,
		StopGrace:        15 * time.Second,
	}
}

func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.ProbeInterval <= 0 {
		t.ProbeInterval = d.ProbeInterval
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = d.ProbeTimeout
	}
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = d.FailureThreshold
	}
	if t.StartAttempts <= 0 {
		t.StartAttempts = d.StartAttempts
	}
	if t.RetryBackoff <= 0 {
		t.RetryBackoff = d.RetryBackoff
	}
	if t.StopGrace <= 0 {
		t.StopGrace = d.StopGrace
	}
	return t
}

// Event is one component lifecycle transition, published for whoever drives
// the supervisor. A Failed event means the component and its transitive
// dependents are already stopped.
type Event struct {
	Component string
	State     types.ComponentState
	Err       error
}

// Recorder persists component state transitions. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordState(status types.ComponentStatus) error
}

// Supervisor starts the component graph in dependency order, monitors every
// running daemon, and tears the graph down in reverse start order.
type Supervisor struct {
	registry  *component.Registry
	renderCtx *component.RenderContext
	tunables  Tunables
	recorder  Recorder

	mu         sync.Mutex
	procs      map[string]*Process
	statuses   map[string]*types.ComponentStatus
	startOrder []string
	stopped    bool

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	events chan Event
}

// New builds a supervisor over the registry. recorder may be nil.
func New(registry *component.Registry, renderCtx *component.RenderContext, tunables Tunables, recorder Recorder) *Supervisor {
	monitorCtx, monitorCancel := context.WithCancel(context.Background())

	s := &Supervisor{
		registry:      registry,
		renderCtx:     renderCtx,
		tunables:      tunables.withDefaults(),
		recorder:      recorder,
		procs:         make(map[string]*Process),
		statuses:      make(map[string]*types.ComponentStatus),
		monitorCtx:    monitorCtx,
		monitorCancel: monitorCancel,
		events:        make(chan Event, 64),
	}
	for _, name := range registry.Names() {
		s.statuses[name] = &types.ComponentStatus{Name: name, State: types.StatePending}
	}
	return s
}

// Events delivers component lifecycle transitions. The channel is buffered;
// the supervisor never blocks on a slow consumer.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// StartAll brings up every component concurrently, each gated on its
// dependencies reaching Ready. The first unrecoverable start failure
// cancels all still-waiting starts and returns its error; components that
// already reached Ready keep running so StopAll can tear them down.
func (s *Supervisor) StartAll(ctx context.Context) error {
	order, err := s.registry.ResolveOrder()
	if err != nil {
		return err
	}

	readyCh := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		readyCh[name] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range order {
		d, _ := s.registry.Get(name)
		g.Go(func() error {
			for _, dep := range d.DependsOn {
				select {
				case <-readyCh[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := s.startComponent(gctx, d); err != nil {
				return err
			}
			close(readyCh[d.Name])
			return nil
		})
	}
	return g.Wait()
}

// startComponent runs the bounded retry loop for one component.
func (s *Supervisor) startComponent(ctx context.Context, d *component.Descriptor) error {
	logger := log.WithComponent(d.Name)

	var lastErr error
	for attempt := 1; attempt <= s.tunables.StartAttempts; attempt++ {
		if attempt > 1 {
			logger.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying start")
			select {
			case <-time.After(s.tunables.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.startOnce(ctx, d)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	s.transition(d.Name, types.StateFailed, lastErr)
	return errdefs.WrapErr(errdefs.ErrProcessStart, lastErr,
		"%s: failed after %d attempts", d.Name, s.tunables.StartAttempts)
}

// startOnce performs a single start attempt: render, spawn, poll the probe
// until Ready or the descriptor's timeout. A process that dies while being
// polled fails the attempt immediately.
func (s *Supervisor) startOnce(ctx context.Context, d *component.Descriptor) error {
	logger := log.WithComponent(d.Name)
	started := time.Now()

	inv, err := d.Render(s.renderCtx)
	if err != nil {
		return err
	}
	checker, err := d.Probe(s.renderCtx)
	if err != nil {
		return err
	}

	s.transition(d.Name, types.StateStarting, nil)
	logger.Info().Str("binary", inv.Binary).Msg("starting")

	proc, err := launch(d.Name, inv, s.renderCtx.Plan)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.procs[d.Name] = proc
	st := s.statuses[d.Name]
	st.PID = proc.PID()
	st.StartedAt = started
	s.mu.Unlock()

	if err := s.awaitReady(ctx, d, proc, checker); err != nil {
		proc.Stop(s.tunables.StopGrace)
		s.forgetProcess(d.Name)
		return err
	}

	s.transition(d.Name, types.StateReady, nil)
	metrics.ObserveComponentStart(d.Name, time.Since(started))
	logger.Info().Dur("took", time.Since(started)).Msg("ready")

	s.mu.Lock()
	s.startOrder = append(s.startOrder, d.Name)
	s.mu.Unlock()

	s.monitorWG.Add(1)
	go s.monitor(d, proc, checker)
	return nil
}

func (s *Supervisor) awaitReady(ctx context.Context, d *component.Descriptor, proc *Process, checker probe.Checker) error {
	deadline := time.After(d.ReadyTimeout)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, s.tunables.ProbeTimeout)
		result := checker.Check(probeCtx)
		cancel()
		if result.Healthy {
			s.mu.Lock()
			st := s.statuses[d.Name]
			st.ReadyAt = time.Now()
			st.LastProbeAt = result.CheckedAt
			st.LastProbeOK = true
			s.mu.Unlock()
			return nil
		}

		select {
		case <-proc.Exited():
			return errdefs.Wrap(errdefs.ErrProcessStart,
				"%s: exited before becoming ready (%v), see %s", d.Name, proc.ExitErr(), proc.LogPath())
		case <-deadline:
			return errdefs.Wrap(errdefs.ErrProcessStart,
				"%s: not ready after %s: %s", d.Name, d.ReadyTimeout, result.Message)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// StopAll tears down every running component in reverse start order. It is
// idempotent and never fails: a component that will not die gracefully is
// killed.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	order := make([]string, len(s.startOrder))
	copy(order, s.startOrder)
	s.mu.Unlock()

	s.monitorCancel()
	s.monitorWG.Wait()

	for i := len(order) - 1; i >= 0; i-- {
		s.stopComponent(order[i])
	}
	close(s.events)
}

func (s *Supervisor) stopComponent(name string) {
	s.mu.Lock()
	proc := s.procs[name]
	state := s.statuses[name].State
	s.mu.Unlock()

	if proc == nil || state.Terminal() {
		return
	}

	s.transition(name, types.StateStopping, nil)
	logger := log.WithComponent(name)
	logger.Info().Msg("stopping")
	proc.Stop(s.tunables.StopGrace)
	s.forgetProcess(name)
	s.transition(name, types.StateStopped, nil)
}

func (s *Supervisor) forgetProcess(name string) {
	s.mu.Lock()
	delete(s.procs, name)
	s.statuses[name].PID = 0
	s.mu.Unlock()
}

// Status returns a copy of one component's status.
func (s *Supervisor) Status(name string) (types.ComponentStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[name]
	if !ok {
		return types.ComponentStatus{}, false
	}
	return *st, true
}

// Statuses returns a copy of every component status, sorted by name.
func (s *Supervisor) Statuses() []types.ComponentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ComponentStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// transition moves a component to state, records it, publishes an event and
// updates the state gauge. Transitions out of Failed are refused: Failed is
// terminal for a run.
func (s *Supervisor) transition(name string, state types.ComponentState, err error) {
	s.mu.Lock()
	st := s.statuses[name]
	if st.State.Terminal() {
		s.mu.Unlock()
		return
	}
	st.State = state
	snapshot := *st
	s.mu.Unlock()

	metrics.SetComponentState(name, string(state))

	logger := log.WithComponent(name)
	if s.recorder != nil {
		if rerr := s.recorder.RecordState(snapshot); rerr != nil {
			logger.Warn().Err(rerr).Msg("failed to record state")
		}
	}

	select {
	case s.events <- Event{Component: name, State: state, Err: err}:
	default:
		logger.Warn().Str("state", string(state)).Msg("event channel full, dropping")
	}
}

// failComponent marks a component Failed and cascades a stop through its
// transitive dependents, deepest first.
func (s *Supervisor) failComponent(name string, cause error) {
	logger := log.WithComponent(name)
	logger.Error().Err(cause).Msg("component failed")

	dependents := s.registry.Dependents(name)

	s.mu.Lock()
	ordered := make([]string, 0, len(dependents))
	for i := len(s.startOrder) - 1; i >= 0; i-- {
		for _, dep := range dependents {
			if s.startOrder[i] == dep {
				ordered = append(ordered, dep)
			}
		}
	}
	s.mu.Unlock()

	for _, dep := range ordered {
		depLogger := log.WithComponent(dep)
		depLogger.Warn().Str("cause", name).Msg("stopping dependent")
		s.stopComponent(dep)
	}

	s.mu.Lock()
	proc := s.procs[name]
	s.mu.Unlock()
	if proc != nil {
		proc.Stop(s.tunables.StopGrace)
		s.forgetProcess(name)
	}

	s.transition(name, types.StateFailed, cause)
}
