package component

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

const proxyConfigTemplate = `apiVersion: kubeproxy.config.k8s.io/v1alpha1
kind: KubeProxyConfiguration
clientConnection:
  kubeconfig: %s
clusterCIDR: %s
mode: iptables
healthzBindAddress: 127.0.0.1:%d
`

func renderProxy(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "kube-proxy: network not planned")
	}

	confPath := filepath.Join(ctx.Plan.ConfigsDir(), "kube-proxy.yaml")
	conf := fmt.Sprintf(proxyConfigTemplate,
		ctx.Plan.ComponentKubeconfig(types.ComponentProxy),
		ctx.Plan.ClusterCIDR.String(),
		ctx.Plan.Ports.ProxyHealth,
	)

	return &Invocation{
		Binary: ctx.Plan.Binary("kube-proxy"),
		Args:   []string{"--config=" + confPath},
		Files: map[string][]byte{
			confPath: []byte(conf),
		},
	}, nil
}

func probeProxy(ctx *RenderContext) (probe.Checker, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", ctx.Plan.Ports.ProxyHealth)
	return probe.NewHTTPChecker(url), nil
}
