package component

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/network"
	"github.com/cuemby/kubestrap/pkg/pki"
	"github.com/cuemby/kubestrap/pkg/probe"
)

func testRenderContext(t *testing.T) *RenderContext {
	t.Helper()

	planner := &config.Planner{Facts: config.Facts{CPUs: 4, Hostname: "devbox"}}
	plan, err := planner.Plan(config.Overrides{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, plan.CreateLayout())

	netw, err := network.Plan(plan)
	require.NoError(t, err)

	ca := pki.New(plan.CertsDir())
	require.NoError(t, ca.Initialize())
	_, err = ca.Issue(IdentityAPIServerEtcdClient, pki.Profile{
		CommonName: IdentityAPIServerEtcdClient,
		Client:     true,
	})
	require.NoError(t, err)
	_, err = ca.Issue(IdentityAdmin, pki.Profile{
		CommonName:   IdentityAdmin,
		Organization: "system:masters",
		Client:       true,
	})
	require.NoError(t, err)

	return &RenderContext{Plan: plan, Net: netw, CA: ca}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func hasArgPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func TestRenderAllComponents(t *testing.T) {
	ctx := testRenderContext(t)
	r := NewRegistry()

	for _, name := range r.Names() {
		d, ok := r.Get(name)
		require.True(t, ok)

		inv, err := d.Render(ctx)
		require.NoError(t, err, "render %s", name)
		assert.NotEmpty(t, inv.Binary, "%s binary", name)

		checker, err := d.Probe(ctx)
		require.NoError(t, err, "probe %s", name)
		assert.NotNil(t, checker, "%s checker", name)
	}
}

func TestRenderEtcd(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderEtcd(ctx)
	require.NoError(t, err)

	assert.True(t, hasArg(inv.Args, "--name=etcd"))
	assert.True(t, hasArg(inv.Args, "--initial-cluster-token="+ctx.Plan.RunID))
	assert.True(t, hasArgPrefix(inv.Args, "--listen-client-urls=https://127.0.0.1:2379"))
}

func TestRenderAPIServer(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderAPIServer(ctx)
	require.NoError(t, err)

	assert.True(t, hasArg(inv.Args, "--secure-port=6443"))
	assert.True(t, hasArg(inv.Args, "--authorization-mode=Node,RBAC"))
	assert.True(t, hasArg(inv.Args, "--service-cluster-ip-range="+ctx.Plan.ServiceCIDR.String()))
	assert.True(t, hasArgPrefix(inv.Args, "--etcd-servers=https://127.0.0.1:2379"))
}

func TestRenderAPIServerWithoutNetwork(t *testing.T) {
	ctx := testRenderContext(t)
	ctx.Net = nil

	_, err := renderAPIServer(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsRender(err))
}

func TestRenderKubeletConfig(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderKubelet(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)

	var conf string
	for _, content := range inv.Files {
		conf = string(content)
	}
	assert.Contains(t, conf, "kind: KubeletConfiguration")
	assert.Contains(t, conf, fmt.Sprintf("healthzPort: %d", ctx.Plan.Ports.KubeletHealth))
	assert.Contains(t, conf, "clusterDomain: cluster.local")
	assert.Contains(t, conf, "podCIDR: "+ctx.Net.NodeSubnets[0].String())
	assert.Contains(t, conf, "containerRuntimeEndpoint: unix://"+ctx.CRIOSocketPath())
	assert.Contains(t, conf, "- "+ctx.Net.DNSIP.String())
}

func TestRenderProxyConfig(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderProxy(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)

	var conf string
	for _, content := range inv.Files {
		conf = string(content)
	}
	assert.Contains(t, conf, "mode: iptables")
	assert.Contains(t, conf, "clusterCIDR: "+ctx.Plan.ClusterCIDR.String())
	assert.Contains(t, conf, fmt.Sprintf("healthzBindAddress: 127.0.0.1:%d", ctx.Plan.Ports.ProxyHealth))
}

func TestRenderCoreDNSCorefile(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderCoreDNS(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)

	var corefile string
	for _, content := range inv.Files {
		corefile = string(content)
	}
	assert.Contains(t, corefile, fmt.Sprintf(".:%d {", ctx.Plan.Ports.DNS))
	assert.Contains(t, corefile, "kubeconfig "+ctx.Plan.KubeconfigPath())
	assert.Contains(t, corefile, "forward . /etc/resolv.conf")
}

func TestRenderCRIOConfig(t *testing.T) {
	ctx := testRenderContext(t)

	inv, err := renderCRIO(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)

	var conf string
	for _, content := range inv.Files {
		conf = string(content)
	}
	assert.Contains(t, conf, `listen = "`+ctx.CRIOSocketPath()+`"`)
	assert.Contains(t, conf, `network_dir = "`+ctx.Plan.NetConfDir()+`"`)
	assert.Contains(t, conf, `cgroup_manager = "cgroupfs"`)
}

func TestRenderBinaryDirOverride(t *testing.T) {
	planner := &config.Planner{Facts: config.Facts{CPUs: 4, Hostname: "devbox"}}
	plan, err := planner.Plan(config.Overrides{Root: t.TempDir(), BinaryDir: "/opt/k8s/bin"})
	require.NoError(t, err)

	netw, err := network.Plan(plan)
	require.NoError(t, err)

	inv, err := renderScheduler(&RenderContext{Plan: plan, Net: netw})
	require.NoError(t, err)
	assert.Equal(t, "/opt/k8s/bin/kube-scheduler", inv.Binary)
}

func TestProbeKubeletTargetsHealthzPort(t *testing.T) {
	ctx := testRenderContext(t)

	checker, err := probeKubelet(ctx)
	require.NoError(t, err)
	assert.Equal(t, probe.CheckTypeHTTP, checker.Type())
}
