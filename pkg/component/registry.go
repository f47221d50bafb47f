package component

import (
	"sort"
	"strings"
	"time"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/types"
)

// Registry holds the fixed component descriptor table.
type Registry struct {
	descriptors map[string]*Descriptor
}

// NewRegistry builds the full descriptor table for a single-host cluster:
//
//	etcd ─ kube-apiserver ─┬─ kube-controller-manager
//	                       ├─ kube-scheduler
//	crio ──────────────────┴─ kubelet ─ kube-proxy ─ coredns
//
// etcd and crio have no dependency relation and start concurrently.
func NewRegistry() *Registry {
	r := &Registry{descriptors: make(map[string]*Descriptor)}

	r.add(&Descriptor{
		Name:         types.ComponentEtcd,
		DependsOn:    nil,
		ReadyTimeout: 60 * time.Second,
		Render:       renderEtcd,
		Probe:        probeEtcd,
	})
	r.add(&Descriptor{
		Name:         types.ComponentAPIServer,
		DependsOn:    []string{types.ComponentEtcd},
		ReadyTimeout: 120 * time.Second,
		Render:       renderAPIServer,
		Probe:        probeAPIServer,
	})
	r.add(&Descriptor{
		Name:         types.ComponentControllerManager,
		DependsOn:    []string{types.ComponentAPIServer},
		ReadyTimeout: 60 * time.Second,
		Render:       renderControllerManager,
		Probe:        probeControllerManager,
	})
	r.add(&Descriptor{
		Name:         types.ComponentScheduler,
		DependsOn:    []string{types.ComponentAPIServer},
		ReadyTimeout: 60 * time.Second,
		Render:       renderScheduler,
		Probe:        probeScheduler,
	})
	r.add(&Descriptor{
		Name:         types.ComponentCRIO,
		DependsOn:    nil,
		ReadyTimeout: 60 * time.Second,
		Render:       renderCRIO,
		Probe:        probeCRIO,
	})
	r.add(&Descriptor{
		Name:         types.ComponentKubelet,
		DependsOn:    []string{types.ComponentAPIServer, types.ComponentCRIO},
		ReadyTimeout: 60 * time.Second,
		Render:       renderKubelet,
		Probe:        probeKubelet,
	})
	r.add(&Descriptor{
		Name:         types.ComponentProxy,
		DependsOn:    []string{types.ComponentAPIServer, types.ComponentKubelet},
		ReadyTimeout: 60 * time.Second,
		Render:       renderProxy,
		Probe:        probeProxy,
	})
	r.add(&Descriptor{
		Name:         types.ComponentCoreDNS,
		DependsOn:    []string{types.ComponentAPIServer, types.ComponentProxy},
		ReadyTimeout: 30 * time.Second,
		Render:       renderCoreDNS,
		Probe:        probeCoreDNS,
	})

	return r
}

// NewRegistryFrom builds a registry over an explicit descriptor table.
// The production table comes from NewRegistry; this is for callers that
// supervise a different set of components.
func NewRegistryFrom(descriptors ...*Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.add(d)
	}
	return r
}

func (r *Registry) add(d *Descriptor) {
	r.descriptors[d.Name] = d
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns all component names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveOrder produces a deterministic topological order of the
// dependency graph: every dependency appears strictly before its
// dependents, ties broken lexicographically. A cycle is a defect in the
// table and is reported naming its members.
func (r *Registry) ResolveOrder() ([]string, error) {
	indegree := make(map[string]int, len(r.descriptors))
	dependents := make(map[string][]string, len(r.descriptors))

	for name, d := range r.descriptors {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range d.DependsOn {
			if _, ok := r.descriptors[dep]; !ok {
				return nil, errdefs.Wrap(errdefs.ErrDependencyCycle,
					"%s depends on unknown component %s", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(r.descriptors))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(r.descriptors) {
		var cycle []string
		for name, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, errdefs.Wrap(errdefs.ErrDependencyCycle,
			"components %s form a cycle", strings.Join(cycle, ", "))
	}
	return order, nil
}

// Dependents returns the transitive dependents of name: every component
// that cannot function once name has failed. Sorted for determinism.
func (r *Registry) Dependents(name string) []string {
	direct := make(map[string][]string)
	for n, d := range r.descriptors {
		for _, dep := range d.DependsOn {
			direct[dep] = append(direct[dep], n)
		}
	}

	seen := make(map[string]bool)
	stack := []string{name}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range direct[current] {
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
