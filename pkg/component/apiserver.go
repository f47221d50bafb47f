package component

import (
	"fmt"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

func renderAPIServer(ctx *RenderContext) (*Invocation, error) {
	if ctx.Net == nil {
		return nil, errdefs.Wrap(errdefs.ErrRender, "kube-apiserver: network not planned")
	}

	etcdURL := fmt.Sprintf("https://127.0.0.1:%d", ctx.Plan.Ports.EtcdClient)

	args := []string{
		"--advertise-address=127.0.0.1",
		"--secure-port=" + fmt.Sprint(ctx.Plan.Ports.APIServer),
		"--allow-privileged=true",
		"--authorization-mode=Node,RBAC",
		"--enable-admission-plugins=NodeRestriction",
		"--client-ca-file=" + ctx.CACertPath(),
		"--tls-cert-file=" + ctx.CertPath(types.ComponentAPIServer),
		"--tls-private-key-file=" + ctx.KeyPath(types.ComponentAPIServer),
		"--etcd-servers=" + etcdURL,
		"--etcd-cafile=" + ctx.CACertPath(),
		"--etcd-certfile=" + ctx.CertPath(IdentityAPIServerEtcdClient),
		"--etcd-keyfile=" + ctx.KeyPath(IdentityAPIServerEtcdClient),
		"--kubelet-certificate-authority=" + ctx.CACertPath(),
		"--kubelet-client-certificate=" + ctx.CertPath(IdentityAPIServerKubeletClient),
		"--kubelet-client-key=" + ctx.KeyPath(IdentityAPIServerKubeletClient),
		"--service-cluster-ip-range=" + ctx.Plan.ServiceCIDR.String(),
		"--service-account-issuer=" + ctx.Plan.APIServerURL(),
		"--service-account-key-file=" + ctx.SAPubPath(),
		"--service-account-signing-key-file=" + ctx.SAKeyPath(),
		"--encryption-provider-config=" + ctx.EncryptionConfigPath(),
		"--v=2",
	}

	return &Invocation{
		Binary: ctx.Plan.Binary("kube-apiserver"),
		Args:   args,
	}, nil
}

func probeAPIServer(ctx *RenderContext) (probe.Checker, error) {
	tlsConfig, err := ctx.CA.ClientTLSConfig(IdentityAdmin)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://127.0.0.1:%d/readyz", ctx.Plan.Ports.APIServer)
	return probe.NewHTTPSChecker(url, tlsConfig), nil
}
