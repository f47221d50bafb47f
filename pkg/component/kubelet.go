package component

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

const kubeletConfigTemplate = `apiVersion: kubelet.config.k8s.io/v1beta1
kind: KubeletConfiguration
address: 127.0.0.1
port: %d
healthzBindAddress: 127.0.0.1
healthzPort: %d
authentication:
  anonymous:
    enabled: false
  webhook:
    enabled: true
  x509:
    clientCAFile: %s
authorization:
  mode: Webhook
tlsCertFile: %s
tlsPrivateKeyFile: %s
clusterDNS:
  - %s
clusterDomain: cluster.local
podCIDR: %s
containerRuntimeEndpoint: unix://%s
cgroupDriver: cgroupfs
failSwapOn: false
`

func renderKubelet(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "kubelet: network not planned")
	}

	confPath := filepath.Join(ctx.Plan.ConfigsDir(), "kubelet.yaml")
	conf := fmt.Sprintf(kubeletConfigTemplate,
		ctx.Plan.Ports.Kubelet,
		ctx.Plan.Ports.KubeletHealth,
		ctx.CACertPath(),
		ctx.CertPath(types.ComponentKubelet),
		ctx.KeyPath(types.ComponentKubelet),
		ctx.Net.DNSIP,
		ctx.Net.NodeSubnets[0],
		ctx.CRIOSocketPath(),
	)

	args := []string{
		"--config=" + confPath,
		"--kubeconfig=" + ctx.Plan.ComponentKubeconfig(types.ComponentKubelet),
		"--root-dir=" + filepath.Join(ctx.Plan.DataDir(), "kubelet"),
		"--v=2",
	}

	return &Invocation{
		Binary: ctx.Plan.Binary("kubelet"),
		Args:   args,
		Files: map[string][]byte{
			confPath: []byte(conf),
		},
	}, nil
}

// The kubelet's main port requires authentication; the localhost healthz
// port does not, so that is what gets probed.
func probeKubelet(ctx *RenderContext) (probe.Checker, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", ctx.Plan.Ports.KubeletHealth)
	return probe.NewHTTPChecker(url), nil
}
