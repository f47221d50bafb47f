package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/types"
)

const (
	// DefaultRoot is the working directory created relative to the
	// current directory when no override is given.
	DefaultRoot = "kubestrap-run"

	// DefaultClusterCIDR is the pod network.
	DefaultClusterCIDR = "10.10.0.0/16"

	// DefaultServiceCIDR is the service network. It must be disjoint
	// from the cluster CIDR.
	DefaultServiceCIDR = "10.20.0.0/20"

	// MinCPUs is the minimum number of host CPUs needed to run all
	// daemons concurrently.
	MinCPUs = 2

	// nodePodPrefix is the per-node pod subnet size carved out of the
	// cluster CIDR.
	nodePodPrefix = 24

	// dnsServiceOffset is the well-known offset of the cluster DNS
	// address within the service CIDR.
	dnsServiceOffset = 10

	// PlanFileName is the persisted plan inside the root directory.
	PlanFileName = "cluster.yaml"
)

// Overrides are the user-supplied knobs, validated by the CLI layer before
// they reach the planner.
type Overrides struct {
	Root        string
	ClusterCIDR string
	ServiceCIDR string
	Nodes       int

	// BinaryDir optionally prefixes every component binary instead of
	// resolving it on PATH.
	BinaryDir string
}

// Facts are host properties the planner consumes. They are injectable so
// tests can simulate hosts.
type Facts struct {
	CPUs     int
	Hostname string
}

// HostFacts collects facts from the running host.
func HostFacts() Facts {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return Facts{
		CPUs:     runtime.NumCPU(),
		Hostname: hostname,
	}
}

// Ports holds the deterministic, plan-derived port assignment. No dynamic
// allocation is used so rendered configs can hardcode addresses.
type Ports struct {
	EtcdClient        int `yaml:"etcd-client"`
	EtcdPeer          int `yaml:"etcd-peer"`
	APIServer         int `yaml:"api-server"`
	ControllerManager int `yaml:"controller-manager"`
	Scheduler         int `yaml:"scheduler"`
	Kubelet           int `yaml:"kubelet"`
	KubeletHealth     int `yaml:"kubelet-health"`
	ProxyHealth       int `yaml:"proxy-health"`
	DNS               int `yaml:"dns"`
	DNSHealth         int `yaml:"dns-health"`
	Metrics           int `yaml:"metrics"`
}

// DefaultPorts returns the standard assignment.
func DefaultPorts() Ports {
	return Ports{
		EtcdClient:        2379,
		EtcdPeer:          2380,
		APIServer:         6443,
		ControllerManager: 10257,
		Scheduler:         10259,
		Kubelet:           10250,
		KubeletHealth:     10248,
		ProxyHealth:       10256,
		DNS:               53,
		DNSHealth:         8081,
		Metrics:           9680,
	}
}

func (p Ports) all() map[string]int {
	return map[string]int{
		"etcd-client":        p.EtcdClient,
		"etcd-peer":          p.EtcdPeer,
		"api-server":         p.APIServer,
		"controller-manager": p.ControllerManager,
		"scheduler":          p.Scheduler,
		"kubelet":            p.Kubelet,
		"kubelet-health":     p.KubeletHealth,
		"proxy-health":       p.ProxyHealth,
		"dns":                p.DNS,
		"dns-health":         p.DNSHealth,
		"metrics":            p.Metrics,
	}
}

// ClusterPlan is the immutable cluster-wide configuration, computed once at
// startup and read-only afterwards.
type ClusterPlan struct {
	RunID     string
	Hostname  string
	NodeCount int

	ClusterCIDR *net.IPNet
	ServiceCIDR *net.IPNet

	Root      string
	BinaryDir string
	Ports     Ports
}

// Planner derives a ClusterPlan from overrides and host facts.
type Planner struct {
	Facts Facts
}

// NewPlanner returns a planner bound to the real host.
func NewPlanner() *Planner {
	return &Planner{Facts: HostFacts()}
}

// Plan validates the overrides against the host facts and produces the
// cluster plan. It does not touch the filesystem; call CreateLayout on the
// result for that.
func (p *Planner) Plan(o Overrides) (*ClusterPlan, error) {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.ClusterCIDR == "" {
		o.ClusterCIDR = DefaultClusterCIDR
	}
	if o.ServiceCIDR == "" {
		o.ServiceCIDR = DefaultServiceCIDR
	}
	if o.Nodes == 0 {
		o.Nodes = 1
	}

	if o.Nodes < 1 {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "nodes: must be at least 1, got %d", o.Nodes)
	}
	if p.Facts.CPUs < MinCPUs {
		return nil, errdefs.Wrap(errdefs.ErrConfig,
			"cpus: host has %d, need at least %d to run all daemons", p.Facts.CPUs, MinCPUs)
	}

	_, clusterNet, err := net.ParseCIDR(o.ClusterCIDR)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrConfig, err, "cluster-cidr: %q", o.ClusterCIDR)
	}
	_, serviceNet, err := net.ParseCIDR(o.ServiceCIDR)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrConfig, err, "service-cidr: %q", o.ServiceCIDR)
	}
	if overlaps(clusterNet, serviceNet) {
		return nil, errdefs.Wrap(errdefs.ErrConfig,
			"service-cidr: %s overlaps cluster-cidr %s", serviceNet, clusterNet)
	}

	// The cluster CIDR is subdivided into one pod subnet per node.
	ones, bits := clusterNet.Mask.Size()
	if bits != 32 {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "cluster-cidr: %s is not IPv4", clusterNet)
	}
	if ones > nodePodPrefix {
		return nil, errdefs.Wrap(errdefs.ErrConfig,
			"cluster-cidr: %s smaller than a /%d, cannot hold a pod subnet", clusterNet, nodePodPrefix)
	}
	if subnets := 1 << uint(nodePodPrefix-ones); subnets < o.Nodes {
		return nil, errdefs.Wrap(errdefs.ErrConfig,
			"cluster-cidr: %s holds %d /%d pod subnets, need %d", clusterNet, subnets, nodePodPrefix, o.Nodes)
	}

	// The service CIDR must at least cover the API service address and
	// the well-known DNS offset.
	if cidr.AddressCount(serviceNet) <= dnsServiceOffset+1 {
		return nil, errdefs.Wrap(errdefs.ErrConfig,
			"service-cidr: %s too small, need more than %d addresses", serviceNet, dnsServiceOffset+1)
	}

	ports := DefaultPorts()
	seen := make(map[int]string, len(ports.all()))
	for name, port := range ports.all() {
		if other, dup := seen[port]; dup {
			return nil, errdefs.Wrap(errdefs.ErrConfig,
				"ports: %d assigned to both %s and %s", port, other, name)
		}
		seen[port] = name
	}

	return &ClusterPlan{
		RunID:       uuid.NewString(),
		Hostname:    p.Facts.Hostname,
		NodeCount:   o.Nodes,
		ClusterCIDR: clusterNet,
		ServiceCIDR: serviceNet,
		Root:        o.Root,
		BinaryDir:   o.BinaryDir,
		Ports:       ports,
	}, nil
}

func overlaps(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

// APIServiceIP is the first usable address of the service network, assigned
// to the in-cluster "kubernetes" service.
func (c *ClusterPlan) APIServiceIP() net.IP {
	ip, _ := cidr.Host(c.ServiceCIDR, 1)
	return ip
}

// DNSServiceIP is the well-known cluster DNS address inside the service
// network.
func (c *ClusterPlan) DNSServiceIP() net.IP {
	ip, _ := cidr.Host(c.ServiceCIDR, dnsServiceOffset)
	return ip
}

// APIServerURL is the advertised address every kubeconfig points at.
func (c *ClusterPlan) APIServerURL() string {
	return fmt.Sprintf("https://127.0.0.1:%d", c.Ports.APIServer)
}

// Binary resolves a component binary name through the optional binary dir.
func (c *ClusterPlan) Binary(name string) string {
	if c.BinaryDir == "" {
		return name
	}
	return filepath.Join(c.BinaryDir, name)
}

// Directory layout under the root. This layout is a contract: external log
// viewers and health-check scripts rely on it.
func (c *ClusterPlan) CertsDir() string   { return filepath.Join(c.Root, "certs") }
func (c *ClusterPlan) ConfigsDir() string { return filepath.Join(c.Root, "configs") }
func (c *ClusterPlan) LogsDir() string    { return filepath.Join(c.Root, "logs") }
func (c *ClusterPlan) RunDir() string     { return filepath.Join(c.Root, "run") }
func (c *ClusterPlan) DataDir() string    { return filepath.Join(c.Root, "data") }
func (c *ClusterPlan) NetConfDir() string { return filepath.Join(c.ConfigsDir(), "net.d") }

// KubeconfigPath is the admin kubeconfig handed to the interactive shell.
func (c *ClusterPlan) KubeconfigPath() string { return filepath.Join(c.Root, "kubeconfig") }

// ComponentKubeconfig is the per-component client kubeconfig.
func (c *ClusterPlan) ComponentKubeconfig(name string) string {
	return filepath.Join(c.ConfigsDir(), name+".kubeconfig")
}

// PlanPath is where the plan itself is persisted for inspection.
func (c *ClusterPlan) PlanPath() string { return filepath.Join(c.Root, PlanFileName) }

// CreateLayout creates the working directory tree. A pre-existing
// non-directory in the way is a filesystem error.
func (c *ClusterPlan) CreateLayout() error {
	dirs := []string{
		c.Root,
		c.CertsDir(),
		c.ConfigsDir(),
		c.NetConfDir(),
		c.LogsDir(),
		c.RunDir(),
		c.DataDir(),
	}
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return errdefs.Wrap(errdefs.ErrFilesystem, "%s exists and is not a directory", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if os.IsPermission(err) {
				return errdefs.WrapErr(errdefs.ErrPermission, err, "creating %s", dir)
			}
			return errdefs.WrapErr(errdefs.ErrFilesystem, err, "creating %s", dir)
		}
	}
	return nil
}

// planDoc is the YAML serialization of the plan.
type planDoc struct {
	RunID       string `yaml:"run-id"`
	Hostname    string `yaml:"hostname"`
	NodeCount   int    `yaml:"nodes"`
	ClusterCIDR string `yaml:"cluster-cidr"`
	ServiceCIDR string `yaml:"service-cidr"`
	Root        string `yaml:"root"`
	BinaryDir   string `yaml:"binary-dir,omitempty"`
	Ports       Ports  `yaml:"ports"`
}

// Persist writes the plan to <root>/cluster.yaml.
func (c *ClusterPlan) Persist() error {
	doc := planDoc{
		RunID:       c.RunID,
		Hostname:    c.Hostname,
		NodeCount:   c.NodeCount,
		ClusterCIDR: c.ClusterCIDR.String(),
		ServiceCIDR: c.ServiceCIDR.String(),
		Root:        c.Root,
		BinaryDir:   c.BinaryDir,
		Ports:       c.Ports,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrFilesystem, err, "marshaling plan")
	}
	if err := os.WriteFile(c.PlanPath(), data, 0o644); err != nil {
		return errdefs.WrapErr(errdefs.ErrFilesystem, err, "writing %s", c.PlanPath())
	}
	return nil
}

// Components returns the closed set of component names this plan manages.
func (c *ClusterPlan) Components() []string {
	return []string{
		types.ComponentEtcd,
		types.ComponentAPIServer,
		types.ComponentControllerManager,
		types.ComponentScheduler,
		types.ComponentCRIO,
		types.ComponentKubelet,
		types.ComponentProxy,
		types.ComponentCoreDNS,
	}
}
