package component

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
)

const crioConfTemplate = `[crio]
root = "%s"
runroot = "%s"
log_dir = "%s"

[crio.api]
listen = "%s"

[crio.runtime]
cgroup_manager = "cgroupfs"
conmon_cgroup = "pod"
default_runtime = "runc"

[crio.image]
pause_image = "registry.k8s.io/pause:3.9"

[crio.network]
network_dir = "%s"
`

func renderCRIO(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "crio: network not planned")
	}

	confPath := filepath.Join(ctx.Plan.ConfigsDir(), "crio.conf")
	conf := fmt.Sprintf(crioConfTemplate,
		filepath.Join(ctx.Plan.DataDir(), "crio"),
		filepath.Join(ctx.Plan.DataDir(), "crio-run"),
		filepath.Join(ctx.Plan.LogsDir(), "pods"),
		ctx.CRIOSocketPath(),
		ctx.Plan.NetConfDir(),
	)

	return &Invocation{
		Binary: ctx.Plan.Binary("crio"),
		Args:   []string{"--config=" + confPath},
		Files: map[string][]byte{
			confPath: []byte(conf),
		},
	}, nil
}

// The runtime has no TCP endpoint; readiness is its API socket accepting
// connections.
func probeCRIO(ctx *RenderContext) (probe.Checker, error) {
	return probe.NewSocketChecker(ctx.CRIOSocketPath()), nil
}
