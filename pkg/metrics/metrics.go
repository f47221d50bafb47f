package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/kubestrap/pkg/types"
)

var (
	// Component metrics
	ComponentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubestrap_component_state",
			Help: "Component lifecycle state (1 for the current state, 0 otherwise)",
		},
		[]string{"component", "state"},
	)

	ComponentStartSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubestrap_component_start_seconds",
			Help:    "Time from spawn to the readiness probe succeeding",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"component"},
	)

	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubestrap_probe_failures_total",
			Help: "Total number of failed liveness probes by component",
		},
		[]string{"component"},
	)

	// Bootstrap metrics
	BootstrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubestrap_bootstrap_duration_seconds",
			Help:    "Time from invocation to the whole cluster being ready",
			Buckets: []float64{10, 30, 60, 120, 240, 480},
		},
	)

	CertificatesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubestrap_certificates_issued_total",
			Help: "Total number of certificates issued by the cluster CA",
		},
	)
)

var allStates = []types.ComponentState{
	types.StatePending,
	types.StateStarting,
	types.StateReady,
	types.StateDegraded,
	types.StateStopping,
	types.StateStopped,
	types.StateFailed,
}

func init() {
	prometheus.MustRegister(ComponentState)
	prometheus.MustRegister(ComponentStartSeconds)
	prometheus.MustRegister(ProbeFailuresTotal)
	prometheus.MustRegister(BootstrapDuration)
	prometheus.MustRegister(CertificatesIssued)
}

// SetComponentState marks state as the component's current state and clears
// the rest, so a sum over the state label is always exactly 1 per component.
func SetComponentState(component, state string) {
	for _, s := range allStates {
		value := 0.0
		if string(s) == state {
			value = 1.0
		}
		ComponentState.WithLabelValues(component, string(s)).Set(value)
	}
}

// ObserveComponentStart records the spawn-to-ready latency of one component.
func ObserveComponentStart(component string, took time.Duration) {
	ComponentStartSeconds.WithLabelValues(component).Observe(took.Seconds())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
