package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kubestrap/pkg/component"
	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

func testPlan(t *testing.T) *config.ClusterPlan {
	t.Helper()
	planner := &config.Planner{Facts: config.Facts{CPUs: 4, Hostname: "devbox"}}
	plan, err := planner.Plan(config.Overrides{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, plan.CreateLayout())
	return plan
}

// shellComponent is a descriptor whose daemon is a shell one-liner that
// prints "serving" and sleeps; readiness is the log pattern appearing.
func shellComponent(plan *config.ClusterPlan, name string, deps ...string) *component.Descriptor {
	return &component.Descriptor{
		Name:         name,
		DependsOn:    deps,
		ReadyTimeout: 10 * time.Second,
		Render: func(*component.RenderContext) (*component.Invocation, error) {
			return &component.Invocation{
				Binary: "/bin/sh",
				Args:   []string{"-c", "echo serving; exec sleep 60"},
			}, nil
		},
		Probe: func(*component.RenderContext) (probe.Checker, error) {
			return probe.NewLogPatternChecker(
				filepath.Join(plan.LogsDir(), name+".log"), "serving"), nil
		},
	}
}

func brokenComponent(name string) *component.Descriptor {
	return &component.Descriptor{
		Name:         name,
		ReadyTimeout: 5 * time.Second,
		Render: func(*component.RenderContext) (*component.Invocation, error) {
			return &component.Invocation{Binary: "/bin/false"}, nil
		},
		Probe: func(*component.RenderContext) (probe.Checker, error) {
			return probe.NewTCPChecker("127.0.0.1:1"), nil
		},
	}
}

func fastTunables() Tunables {
	return Tunables{
		ProbeInterval:    100 * time.Millisecond,
		ProbeTimeout:     time.Second,
		FailureThreshold: 2,
		StartAttempts:    2,
		RetryBackoff:     50 * time.Millisecond,
		StopGrace:        2 * time.Second,
	}
}

func TestStartAllRespectsDependencies(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(
		shellComponent(plan, "one"),
		shellComponent(plan, "two", "one"),
	)
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)
	defer s.StopAll()

	require.NoError(t, s.StartAll(context.Background()))

	one, ok := s.Status("one")
	require.True(t, ok)
	two, ok := s.Status("two")
	require.True(t, ok)

	assert.Equal(t, types.StateReady, one.State)
	assert.Equal(t, types.StateReady, two.State)
	assert.NotZero(t, one.PID)
	assert.False(t, two.StartedAt.Before(one.ReadyAt),
		"dependent started at %v, before dependency ready at %v", two.StartedAt, one.ReadyAt)
}

func TestStartAllFailsAfterAttempts(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(brokenComponent("doomed"))
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)
	defer s.StopAll()

	err := s.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsProcessStart(err))

	st, ok := s.Status("doomed")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, st.State)
}

func TestStartAllFailureCancelsWaiters(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(
		brokenComponent("doomed"),
		shellComponent(plan, "waiter", "doomed"),
	)
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)
	defer s.StopAll()

	require.Error(t, s.StartAll(context.Background()))

	st, ok := s.Status("waiter")
	require.True(t, ok)
	assert.Equal(t, types.StatePending, st.State, "waiter must never have started")
}

func TestStopAllReverseAndIdempotent(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(
		shellComponent(plan, "one"),
		shellComponent(plan, "two", "one"),
	)
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)

	require.NoError(t, s.StartAll(context.Background()))

	s.StopAll()
	s.StopAll()

	for _, name := range []string{"one", "two"} {
		st, ok := s.Status(name)
		require.True(t, ok)
		assert.Equal(t, types.StateStopped, st.State, name)
		assert.Zero(t, st.PID, name)
	}
}

func TestUnexpectedExitCascades(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(
		shellComponent(plan, "base"),
		shellComponent(plan, "leaf", "base"),
	)
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)
	defer s.StopAll()

	require.NoError(t, s.StartAll(context.Background()))

	base, ok := s.Status("base")
	require.True(t, ok)
	require.NoError(t, syscall.Kill(base.PID, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		st, _ := s.Status("base")
		return st.State == types.StateFailed
	}, 5*time.Second, 50*time.Millisecond, "base must fail once its process dies")

	assert.Eventually(t, func() bool {
		st, _ := s.Status("leaf")
		return st.State == types.StateStopped
	}, 5*time.Second, 50*time.Millisecond, "leaf must be cascade-stopped")
}

// scriptedChecker returns a predetermined sequence of probe outcomes; once
// the script runs out, the last entry repeats.
type scriptedChecker struct {
	mu     sync.Mutex
	script []bool
	idx    int
}

func (c *scriptedChecker) Check(context.Context) probe.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	healthy := c.script[len(c.script)-1]
	if c.idx < len(c.script) {
		healthy = c.script[c.idx]
		c.idx++
	}
	msg := ""
	if !healthy {
		msg = "connection refused"
	}
	return probe.Result{Healthy: healthy, Message: msg, CheckedAt: time.Now()}
}

func (c *scriptedChecker) Type() probe.CheckType { return probe.CheckTypeTCP }

func (c *scriptedChecker) setScript(script []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = script
	c.idx = 0
}

// scriptedComponent is a long-lived daemon whose health is dictated by the
// checker, not by the process.
func scriptedComponent(name string, checker probe.Checker, deps ...string) *component.Descriptor {
	return &component.Descriptor{
		Name:         name,
		DependsOn:    deps,
		ReadyTimeout: 10 * time.Second,
		Render: func(*component.RenderContext) (*component.Invocation, error) {
			return &component.Invocation{Binary: "/bin/sleep", Args: []string{"60"}}, nil
		},
		Probe: func(*component.RenderContext) (probe.Checker, error) {
			return checker, nil
		},
	}
}

func TestDegradedRecoversBelowThreshold(t *testing.T) {
	plan := testPlan(t)
	// First check satisfies readiness, the single failure afterwards stays
	// below the threshold of 2, then the component is healthy again.
	checker := &scriptedChecker{script: []bool{true, false, true}}
	reg := component.NewRegistryFrom(scriptedComponent("flaky", checker))
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)

	require.NoError(t, s.StartAll(context.Background()))

	// Wait until the scripted failure and its recovery have both been
	// observed; the Degraded window itself is too short to poll for.
	require.Eventually(t, func() bool {
		checker.mu.Lock()
		consumed := checker.idx >= len(checker.script)
		checker.mu.Unlock()
		st, _ := s.Status("flaky")
		return consumed && st.State == types.StateReady
	}, 5*time.Second, 20*time.Millisecond, "component must return to Ready after a transient failure")

	s.StopAll()

	var states []types.ComponentState
	for ev := range s.Events() {
		states = append(states, ev.State)
	}
	assert.Equal(t, []types.ComponentState{
		types.StateStarting,
		types.StateReady,
		types.StateDegraded,
		types.StateReady,
		types.StateStopping,
		types.StateStopped,
	}, states)
}

func TestFailureThresholdCascades(t *testing.T) {
	plan := testPlan(t)
	checker := &scriptedChecker{script: []bool{true}}
	reg := component.NewRegistryFrom(
		scriptedComponent("base", checker),
		shellComponent(plan, "leaf", "base"),
		shellComponent(plan, "solo"),
	)
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)
	defer s.StopAll()

	require.NoError(t, s.StartAll(context.Background()))

	// With the whole graph up, base's probes start failing for good; the
	// threshold of 2 turns Degraded into Failed.
	checker.setScript([]bool{false})

	assert.Eventually(t, func() bool {
		st, _ := s.Status("base")
		return st.State == types.StateFailed
	}, 5*time.Second, 20*time.Millisecond, "consecutive failures at the threshold must fail the component")

	assert.Eventually(t, func() bool {
		st, _ := s.Status("leaf")
		return st.State == types.StateStopped
	}, 5*time.Second, 20*time.Millisecond, "dependents of the failed component must be stopped")

	solo, _ := s.Status("solo")
	assert.Equal(t, types.StateReady, solo.State, "unrelated components keep running")
}

func TestEventsCarryTransitions(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(shellComponent(plan, "one"))
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)

	require.NoError(t, s.StartAll(context.Background()))
	s.StopAll()

	var states []types.ComponentState
	for ev := range s.Events() {
		assert.Equal(t, "one", ev.Component)
		states = append(states, ev.State)
	}
	assert.Equal(t, []types.ComponentState{
		types.StateStarting,
		types.StateReady,
		types.StateStopping,
		types.StateStopped,
	}, states)
}

type memoryRecorder struct {
	mu       sync.Mutex
	recorded []types.ComponentStatus
}

func (m *memoryRecorder) RecordState(st types.ComponentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, st)
	return nil
}

func TestRecorderSeesEveryTransition(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(shellComponent(plan, "one"))
	rec := &memoryRecorder{}
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), rec)

	require.NoError(t, s.StartAll(context.Background()))
	s.StopAll()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.recorded)
	assert.Equal(t, types.StateStarting, rec.recorded[0].State)
	assert.Equal(t, types.StateStopped, rec.recorded[len(rec.recorded)-1].State)
}

func TestProcessRunFiles(t *testing.T) {
	plan := testPlan(t)
	reg := component.NewRegistryFrom(shellComponent(plan, "one"))
	s := New(reg, &component.RenderContext{Plan: plan}, fastTunables(), nil)

	require.NoError(t, s.StartAll(context.Background()))

	st, _ := s.Status("one")
	pidFile := filepath.Join(plan.RunDir(), "one.pid")
	assert.FileExists(t, pidFile)
	assert.FileExists(t, filepath.Join(plan.RunDir(), "one.cmd"))

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", st.PID), string(data))

	s.StopAll()
	assert.NoFileExists(t, pidFile, "pid file must be removed on stop")
}
