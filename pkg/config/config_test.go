package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/kubestrap/pkg/errdefs"
)

func testPlanner() *Planner {
	return &Planner{Facts: Facts{CPUs: 8, Hostname: "testhost"}}
}

func TestPlanDefaults(t *testing.T) {
	plan, err := testPlanner().Plan(Overrides{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.NodeCount != 1 {
		t.Errorf("expected 1 node, got %d", plan.NodeCount)
	}
	if plan.ClusterCIDR.String() != DefaultClusterCIDR {
		t.Errorf("expected cluster CIDR %s, got %s", DefaultClusterCIDR, plan.ClusterCIDR)
	}
	if plan.ServiceCIDR.String() != DefaultServiceCIDR {
		t.Errorf("expected service CIDR %s, got %s", DefaultServiceCIDR, plan.ServiceCIDR)
	}
	if plan.RunID == "" {
		t.Error("expected a run ID")
	}
	if plan.Hostname != "testhost" {
		t.Errorf("expected hostname from facts, got %q", plan.Hostname)
	}
}

func TestPlanServiceAddresses(t *testing.T) {
	plan, err := testPlanner().Plan(Overrides{
		Root:        t.TempDir(),
		ClusterCIDR: "10.0.0.0/16",
		ServiceCIDR: "10.1.0.0/20",
		Nodes:       5,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if got := plan.APIServiceIP().String(); got != "10.1.0.1" {
		t.Errorf("expected API service IP 10.1.0.1, got %s", got)
	}
	if got := plan.DNSServiceIP().String(); got != "10.1.0.10" {
		t.Errorf("expected DNS service IP 10.1.0.10, got %s", got)
	}
	if got := plan.APIServerURL(); got != "https://127.0.0.1:6443" {
		t.Errorf("unexpected API server URL %s", got)
	}
}

func TestPlanValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides Overrides
		facts     Facts
		check     func(error) bool
	}{
		{
			name:      "invalid cluster cidr",
			overrides: Overrides{ClusterCIDR: "not-a-cidr"},
			check:     errdefs.IsConfig,
		},
		{
			name:      "invalid service cidr",
			overrides: Overrides{ServiceCIDR: "10.1.2.3"},
			check:     errdefs.IsConfig,
		},
		{
			name:      "overlapping cidrs",
			overrides: Overrides{ClusterCIDR: "10.0.0.0/16", ServiceCIDR: "10.0.4.0/20"},
			check:     errdefs.IsConfig,
		},
		{
			name:      "cluster cidr too small for nodes",
			overrides: Overrides{ClusterCIDR: "10.0.0.0/23", ServiceCIDR: "10.1.0.0/20", Nodes: 3},
			check:     errdefs.IsConfig,
		},
		{
			name:      "service cidr too small for dns offset",
			overrides: Overrides{ClusterCIDR: "10.0.0.0/16", ServiceCIDR: "10.1.0.0/30"},
			check:     errdefs.IsConfig,
		},
		{
			name:      "negative nodes",
			overrides: Overrides{Nodes: -1},
			check:     errdefs.IsConfig,
		},
		{
			name:  "too few cpus",
			facts: Facts{CPUs: 1, Hostname: "tiny"},
			check: errdefs.IsConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPlanner()
			if tt.facts.CPUs != 0 {
				p.Facts = tt.facts
			}
			tt.overrides.Root = t.TempDir()
			_, err := p.Plan(tt.overrides)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("wrong error kind: %v", err)
			}
		})
	}
}

func TestPlanSubnetsDisjoint(t *testing.T) {
	plan, err := testPlanner().Plan(Overrides{
		Root:        t.TempDir(),
		ClusterCIDR: "10.0.0.0/16",
		ServiceCIDR: "10.1.0.0/20",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.ClusterCIDR.Contains(plan.ServiceCIDR.IP) || plan.ServiceCIDR.Contains(plan.ClusterCIDR.IP) {
		t.Error("cluster and service CIDRs overlap")
	}
}

func TestPortsUnique(t *testing.T) {
	ports := DefaultPorts().all()
	seen := make(map[int]string)
	for name, port := range ports {
		if other, ok := seen[port]; ok {
			t.Errorf("port %d shared by %s and %s", port, name, other)
		}
		seen[port] = name
	}
}

func TestCreateLayout(t *testing.T) {
	plan, err := testPlanner().Plan(Overrides{Root: filepath.Join(t.TempDir(), "run")})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := plan.CreateLayout(); err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}

	for _, dir := range []string{
		plan.CertsDir(), plan.ConfigsDir(), plan.NetConfDir(),
		plan.LogsDir(), plan.RunDir(), plan.DataDir(),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("missing directory %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Second invocation is a no-op.
	if err := plan.CreateLayout(); err != nil {
		t.Errorf("CreateLayout not idempotent: %v", err)
	}
}

func TestCreateLayoutBlockedByFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "certs"), []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := testPlanner().Plan(Overrides{Root: root})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	err = plan.CreateLayout()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errdefs.IsFilesystem(err) {
		t.Errorf("wrong error kind: %v", err)
	}
}

func TestPersist(t *testing.T) {
	plan, err := testPlanner().Plan(Overrides{Root: filepath.Join(t.TempDir(), "run")})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := plan.CreateLayout(); err != nil {
		t.Fatal(err)
	}
	if err := plan.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	data, err := os.ReadFile(plan.PlanPath())
	if err != nil {
		t.Fatalf("reading persisted plan: %v", err)
	}
	for _, want := range []string{"cluster-cidr: 10.10.0.0/16", "run-id:", "api-server: 6443"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("persisted plan missing %q:\n%s", want, data)
		}
	}
}
