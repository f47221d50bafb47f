package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/kubestrap/pkg/types"
)

func TestSetComponentStateExclusive(t *testing.T) {
	SetComponentState("etcd", string(types.StateStarting))
	SetComponentState("etcd", string(types.StateReady))

	assert.Equal(t, 1.0, testutil.ToFloat64(ComponentState.WithLabelValues("etcd", "ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentState.WithLabelValues("etcd", "starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentState.WithLabelValues("etcd", "failed")))
}

func TestObserveComponentStart(t *testing.T) {
	before := testutil.CollectAndCount(ComponentStartSeconds)
	ObserveComponentStart("kube-apiserver", 3*time.Second)
	assert.Greater(t, testutil.CollectAndCount(ComponentStartSeconds), before-1)
}

func TestHandlerServes(t *testing.T) {
	assert.NotNil(t, Handler())
}
