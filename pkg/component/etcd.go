package component

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/kubestrap/pkg/probe"
	"github.com/cuemby/kubestrap/pkg/types"
)

// Identities issued by the CA beyond the component names themselves.
const (
	IdentityAdmin                  = "admin"
	IdentityAPIServerEtcdClient    = "apiserver-etcd-client"
	IdentityAPIServerKubeletClient = "apiserver-kubelet-client"
)

func renderEtcd(ctx *RenderContext) (*Invocation, error) {
	dataDir := filepath.Join(ctx.Plan.DataDir(), "etcd")
	clientURL := fmt.Sprintf("https://127.0.0.1:%d", ctx.Plan.Ports.EtcdClient)
	peerURL := fmt.Sprintf("https://127.0.0.1:%d", ctx.Plan.Ports.EtcdPeer)

	args := []string{
		"--name=etcd",
		"--data-dir=" + dataDir,
		"--advertise-client-urls=" + clientURL,
		"--listen-client-urls=" + clientURL,
		"--initial-advertise-peer-urls=" + peerURL,
		"--listen-peer-urls=" + peerURL,
		"--initial-cluster=etcd=" + peerURL,
		"--initial-cluster-state=new",
		"--initial-cluster-token=" + ctx.Plan.RunID,
		"--client-cert-auth",
		"--cert-file=" + ctx.CertPath(types.ComponentEtcd),
		"--key-file=" + ctx.KeyPath(types.ComponentEtcd),
		"--trusted-ca-file=" + ctx.CACertPath(),
		"--peer-client-cert-auth",
		"--peer-cert-file=" + ctx.CertPath(types.ComponentEtcd),
		"--peer-key-file=" + ctx.KeyPath(types.ComponentEtcd),
		"--peer-trusted-ca-file=" + ctx.CACertPath(),
	}

	return &Invocation{
		Binary: ctx.Plan.Binary("etcd"),
		Args:   args,
	}, nil
}

// etcd serves the standard gRPC health service on its client port, so
// readiness is a real health RPC authenticated with the issued client cert.
func probeEtcd(ctx *RenderContext) (probe.Checker, error) {
	tlsConfig, err := ctx.CA.ClientTLSConfig(IdentityAPIServerEtcdClient)
	if err != nil {
		return nil, err
	}
	target := fmt.Sprintf("127.0.0.1:%d", ctx.Plan.Ports.EtcdClient)
	return probe.NewGRPCChecker(target, tlsConfig), nil
}
