package component

import (
	"fmt"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

func renderControllerManager(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "kube-controller-manager: network not planned")
	}

	args := []string{
		"--bind-address=127.0.0.1",
		"--secure-port=" + fmt.Sprint(ctx.Plan.Ports.ControllerManager),
		"--kubeconfig=" + ctx.Plan.ComponentKubeconfig(types.ComponentControllerManager),
		"--cluster-name=kubernetes",
		"--cluster-cidr=" + ctx.Plan.ClusterCIDR.String(),
		"--service-cluster-ip-range=" + ctx.Plan.ServiceCIDR.String(),
		"--allocate-node-cidrs=true",
		"--cluster-signing-cert-file=" + ctx.CACertPath(),
		"--cluster-signing-key-file=" + ctx.CAKeyPath(),
		"--root-ca-file=" + ctx.CACertPath(),
		"--service-account-private-key-file=" + ctx.SAKeyPath(),
		"--use-service-account-credentials=true",
		"--leader-elect=false",
		"--v=2",
	}

	return &Invocation{
		Binary: ctx.Plan.Binary("kube-controller-manager"),
		Args:   args,
	}, nil
}

// The controller manager serves /healthz behind its own self-signed
// serving cert, so the probe skips verification.
func probeControllerManager(ctx *RenderContext) (probe.Checker, error) {
	url := fmt.Sprintf("https://127.0.0.1:%d/healthz", ctx.Plan.Ports.ControllerManager)
	return probe.NewHTTPSChecker(url, nil), nil
}
