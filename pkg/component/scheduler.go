package component

import (
	"fmt"

	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

func renderScheduler(ctx *RenderContext) (*Invocation, error) {
	args := []string{
		"--bind-address=127.0.0.1",
		"--secure-port=" + fmt.Sprint(ctx.Plan.Ports.Scheduler),
		"--kubeconfig=" + ctx.Plan.ComponentKubeconfig(types.ComponentScheduler),
		"--leader-elect=false",
		"--v=2",
	}

	return &Invocation{
		Binary: ctx.Plan.Binary("kube-scheduler"),
		Args:   args,
	}, nil
}

func probeScheduler(ctx *RenderContext) (probe.Checker, error) {
	url := fmt.Sprintf("https://127.0.0.1:%d/healthz", ctx.Plan.Ports.Scheduler)
	return probe.NewHTTPSChecker(url, nil), nil
}
