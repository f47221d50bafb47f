package network

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/log"
)

const (
	// BridgeName is the CNI bridge interface on the host
	BridgeName = "kubestrap0"

	// nodePodPrefix matches the per-node subnet size carved by the planner
	nodePodPrefix = 24
)

// Network is the computed single-host network wiring: the bridge address,
// per-node pod subnets, and the cluster DNS address. Pure derivation from
// the plan; Apply performs the host mutations.
type Network struct {
	ClusterCIDR *net.IPNet
	ServiceCIDR *net.IPNet
	NodeSubnets []*net.IPNet
	BridgeIP    net.IP
	DNSIP       net.IP

	applied [][]string
}

// Plan computes the network layout from the cluster plan.
func Plan(plan *config.ClusterPlan) (*Network, error) {
	ones, _ := plan.ClusterCIDR.Mask.Size()
	newBits := nodePodPrefix - ones

	subnets := make([]*net.IPNet, 0, plan.NodeCount)
	for i := 0; i < plan.NodeCount; i++ {
		subnet, err := cidr.Subnet(plan.ClusterCIDR, newBits, i)
		if err != nil {
			return nil, errdefs.WrapErr(errdefs.ErrNetwork, err,
				"carving pod subnet %d from %s", i, plan.ClusterCIDR)
		}
		subnets = append(subnets, subnet)
	}

	bridgeIP, err := cidr.Host(subnets[0], 1)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrNetwork, err, "deriving bridge address")
	}

	return &Network{
		ClusterCIDR: plan.ClusterCIDR,
		ServiceCIDR: plan.ServiceCIDR,
		NodeSubnets: subnets,
		BridgeIP:    bridgeIP,
		DNSIP:       plan.DNSServiceIP(),
	}, nil
}

const bridgeConflistTemplate = `{
  "cniVersion": "1.0.0",
  "name": "kubestrap",
  "plugins": [
    {
      "type": "bridge",
      "bridge": "%s",
      "isGateway": true,
      "ipMasq": true,
      "hairpinMode": true,
      "ipam": {
        "type": "host-local",
        "ranges": [[{ "subnet": "%s" }]],
        "routes": [{ "dst": "0.0.0.0/0" }]
      }
    }
  ]
}
`

const loopbackConf = `{
  "cniVersion": "1.0.0",
  "name": "lo",
  "type": "loopback"
}
`

// WriteCNIConfig renders the bridge and loopback CNI configuration the
// container runtime consumes.
func (n *Network) WriteCNIConfig(dir string) error {
	bridge := fmt.Sprintf(bridgeConflistTemplate, BridgeName, n.NodeSubnets[0].String())
	if err := os.WriteFile(filepath.Join(dir, "10-bridge.conflist"), []byte(bridge), 0o644); err != nil {
		return errdefs.WrapErr(errdefs.ErrNetwork, err, "writing bridge CNI config")
	}
	if err := os.WriteFile(filepath.Join(dir, "99-loopback.conf"), []byte(loopbackConf), 0o644); err != nil {
		return errdefs.WrapErr(errdefs.ErrNetwork, err, "writing loopback CNI config")
	}
	return nil
}

// Apply installs the NAT and forwarding rules pods need to reach each
// other and the internet. Failure is fatal: the cluster cannot function
// without them.
func (n *Network) Apply() error {
	pods := n.ClusterCIDR.String()
	rules := [][]string{
		// Pod egress to the outside world.
		{"-t", "nat", "-A", "POSTROUTING", "-s", pods, "!", "-d", pods, "-j", "MASQUERADE"},
		// Pod-to-pod and pod-to-host forwarding.
		{"-A", "FORWARD", "-s", pods, "-j", "ACCEPT"},
		{"-A", "FORWARD", "-d", pods, "-j", "ACCEPT"},
	}

	for _, rule := range rules {
		if err := runIPTables(rule); err != nil {
			n.Teardown()
			return errdefs.WrapErr(errdefs.ErrNetwork, err, "applying iptables rule")
		}
		n.applied = append(n.applied, rule)
	}
	return nil
}

// Teardown removes the rules installed by Apply. Errors are ignored: rules
// may already be gone and teardown must make progress.
func (n *Network) Teardown() {
	logger := log.WithComponent("network")
	for i := len(n.applied) - 1; i >= 0; i-- {
		rule := deleteRule(n.applied[i])
		if err := runIPTables(rule); err != nil {
			logger.Debug().Err(err).Strs("rule", rule).Msg("removing iptables rule")
		}
	}
	n.applied = nil
}

// deleteRule rewrites an append rule into its delete counterpart.
func deleteRule(rule []string) []string {
	out := make([]string, len(rule))
	copy(out, rule)
	for i, arg := range out {
		if arg == "-A" {
			out[i] = "-D"
			break
		}
	}
	return out
}

// runIPTables executes an iptables command
func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
