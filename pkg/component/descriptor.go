package component

import (
	"path/filepath"
	"time"

	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/network"
	"github.com/cuemby/kubestrap/pkg/pki"
	"github.com/cuemby/kubestrap/pkg/probe"
)

// RenderContext carries everything a component needs to render its
// invocation: the immutable plan, the computed network, and the CA holding
// the issued certificate material. Rendering is a pure function of it.
type RenderContext struct {
	Plan *config.ClusterPlan
	Net  *network.Network
	CA   *pki.CA
}

// CertPath returns the certificate path for an issued identity.
func (c *RenderContext) CertPath(name string) string {
	return filepath.Join(c.Plan.CertsDir(), name+".crt")
}

// KeyPath returns the key path for an issued identity.
func (c *RenderContext) KeyPath(name string) string {
	return filepath.Join(c.Plan.CertsDir(), name+".key")
}

// CACertPath returns the root certificate path.
func (c *RenderContext) CACertPath() string {
	return filepath.Join(c.Plan.CertsDir(), pki.CACertFile)
}

// CAKeyPath returns the root key path.
func (c *RenderContext) CAKeyPath() string {
	return filepath.Join(c.Plan.CertsDir(), "ca.key")
}

// SAPubPath returns the service account public key path.
func (c *RenderContext) SAPubPath() string {
	return filepath.Join(c.Plan.CertsDir(), "sa.pub")
}

// SAKeyPath returns the service account signing key path.
func (c *RenderContext) SAKeyPath() string {
	return filepath.Join(c.Plan.CertsDir(), "sa.key")
}

// EncryptionConfigPath returns the API server encryption config path.
func (c *RenderContext) EncryptionConfigPath() string {
	return filepath.Join(c.Plan.ConfigsDir(), "encryption.yaml")
}

// CRIOSocketPath returns the container runtime's unix socket path.
func (c *RenderContext) CRIOSocketPath() string {
	return filepath.Join(c.Plan.RunDir(), "crio.sock")
}

// Invocation is a fully rendered component launch: the binary, its
// argument list, and any configuration files that must exist on disk
// before the process starts. No further templating happens after this.
type Invocation struct {
	Binary string
	Args   []string

	// Files maps absolute paths to rendered content.
	Files map[string][]byte
}

// Descriptor is the static metadata for one component: its dependency
// edges, how to render its invocation, and how to probe it. The set of
// descriptors is closed; polymorphic behavior lives in the Render and
// Probe functions, not in open-ended dispatch.
type Descriptor struct {
	// Name is the unique component name.
	Name string

	// DependsOn lists components that must be Ready before this one
	// starts. Must form a DAG across the registry.
	DependsOn []string

	// ReadyTimeout bounds how long the supervisor polls the probe before
	// declaring a start attempt failed.
	ReadyTimeout time.Duration

	// Render produces the invocation from the cluster plan.
	Render func(ctx *RenderContext) (*Invocation, error)

	// Probe builds the readiness/liveness checker. Built after issuance
	// so probes can present issued client certificates.
	Probe func(ctx *RenderContext) (probe.Checker, error)
}
