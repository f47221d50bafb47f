package component

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
)

const corefileTemplate = `.:%d {
    errors
    health 127.0.0.1:%d
    kubernetes cluster.local in-addr.arpa ip6.arpa {
        kubeconfig %s
        pods insecure
        fallthrough in-addr.arpa ip6.arpa
    }
    forward . /etc/resolv.conf
    cache 30
    loop
}
`

func renderCoreDNS(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "coredns: network not planned")
	}

	corefilePath := filepath.Join(ctx.Plan.ConfigsDir(), "Corefile")
	corefile := fmt.Sprintf(corefileTemplate,
		ctx.Plan.Ports.DNS,
		ctx.Plan.Ports.DNSHealth,
		ctx.Plan.KubeconfigPath(),
	)

	return &Invocation{
		Binary: ctx.Plan.Binary("coredns"),
		Args:   []string{"-conf", corefilePath},
		Files: map[string][]byte{
			corefilePath: []byte(corefile),
		},
	}, nil
}

// Readiness is a live DNS exchange, not just an open port: any well-formed
// response proves the resolver is serving.
func probeCoreDNS(ctx *RenderContext) (probe.Checker, error) {
	server := fmt.Sprintf("127.0.0.1:%d", ctx.Plan.Ports.DNS)
	return probe.NewDNSChecker(server, "kubernetes.default.svc.cluster.local."), nil
}
