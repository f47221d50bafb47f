package types

import "time"

// ComponentState is the lifecycle state of a supervised cluster daemon.
type ComponentState string

const (
	// StatePending means dependencies are not all ready yet.
	StatePending ComponentState = "pending"
	// StateStarting means the OS process is running but not yet ready.
	StateStarting ComponentState = "starting"
	// StateReady means the readiness check succeeded.
	StateReady ComponentState = "ready"
	// StateDegraded means a liveness probe failed but the escalation
	// threshold has not been reached.
	StateDegraded ComponentState = "degraded"
	// StateStopping means a graceful termination is in flight.
	StateStopping ComponentState = "stopping"
	// StateStopped means the process has exited and its resources were
	// reclaimed.
	StateStopped ComponentState = "stopped"
	// StateFailed is terminal: the component exited or was killed after
	// exceeding its failure budget.
	StateFailed ComponentState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ComponentState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Running reports whether an OS process is expected to be alive.
func (s ComponentState) Running() bool {
	return s == StateStarting || s == StateReady || s == StateDegraded
}

// ComponentStatus is a point-in-time snapshot of a supervised component,
// returned by the supervisor's query interface.
type ComponentStatus struct {
	Name      string         `json:"name"`
	State     ComponentState `json:"state"`
	PID       int            `json:"pid,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	ReadyAt   time.Time      `json:"ready_at,omitempty"`

	// LastProbeAt and LastProbeOK describe the most recent liveness probe.
	LastProbeAt time.Time `json:"last_probe_at,omitempty"`
	LastProbeOK bool      `json:"last_probe_ok,omitempty"`

	// Failures counts consecutive liveness probe failures.
	Failures int `json:"failures,omitempty"`
}

// Component names. The set is closed: the registry builds descriptors for
// exactly these daemons.
const (
	ComponentEtcd              = "etcd"
	ComponentAPIServer         = "kube-apiserver"
	ComponentControllerManager = "kube-controller-manager"
	ComponentScheduler         = "kube-scheduler"
	ComponentCRIO              = "crio"
	ComponentKubelet           = "kubelet"
	ComponentProxy             = "kube-proxy"
	ComponentCoreDNS           = "coredns"
)
