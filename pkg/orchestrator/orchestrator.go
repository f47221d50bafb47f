package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/kubestrap/pkg/component"
	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/log"
	"github.com/cuemby/kubestrap/pkg/metrics"
	"github.com/cuemby/kubestrap/pkg/network"
	"github.com/cuemby/kubestrap/pkg/pki"
	"github.com/cuemby/kubestrap/pkg/state"
	"github.com/cuemby/kubestrap/pkg/supervisor"
	"github.com/cuemby/kubestrap/pkg/types"
)

// Options configure one bootstrap run.
type Options struct {
	Overrides config.Overrides
	Tunables  supervisor.Tunables

	// NoShell skips the interactive shell and keeps the cluster up until a
	// signal arrives.
	NoShell bool

	// SkipNetwork leaves host networking alone (no bridge CNI config, no
	// iptables rules). Intended for tests.
	SkipNetwork bool
}

// Orchestrator drives a full cluster run: plan, PKI, network, supervised
// components, then teardown.
type Orchestrator struct {
	opts Options

	plan  *config.ClusterPlan
	netw  *network.Network
	ca    *pki.CA
	store *state.Store
	sup   *supervisor.Supervisor
}

// New builds an orchestrator. Nothing touches the host until Run.
func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// Run executes the whole lifecycle and blocks until teardown is complete.
// It returns nil when the run ended because the user asked it to, and the
// fatal error when a component failure forced the teardown.
func (o *Orchestrator) Run(ctx context.Context) error {
	begin := time.Now()

	if err := o.prepare(); err != nil {
		// Whatever prepare already touched (network rules, layout) must
		// not outlive a failed bootstrap.
		o.teardown()
		o.close()
		return err
	}
	defer o.close()

	registry := component.NewRegistry()
	renderCtx := &component.RenderContext{Plan: o.plan, Net: o.netw, CA: o.ca}
	o.sup = supervisor.New(registry, renderCtx, o.opts.Tunables, o.store)

	stopMetrics := o.serveMetrics()
	defer stopMetrics()

	fatal := make(chan error, 1)
	go o.watchEvents(fatal)

	if err := o.sup.StartAll(ctx); err != nil {
		log.Logger.Error().Err(err).Msg("bootstrap failed")
		o.teardown()
		return err
	}

	metrics.BootstrapDuration.Observe(time.Since(begin).Seconds())
	log.Logger.Info().
		Str("kubeconfig", o.plan.KubeconfigPath()).
		Dur("took", time.Since(begin)).
		Msg("cluster is ready")

	err := o.waitForEnd(ctx)
	o.teardown()

	// A steady-state component failure does not end the run (surviving
	// components stay inspectable), but it does make the exit non-zero.
	if err == nil {
		select {
		case err = <-fatal:
		default:
		}
	}
	return err
}

// prepare runs every step that must precede the first process spawn.
func (o *Orchestrator) prepare() error {
	plan, err := config.NewPlanner().Plan(o.opts.Overrides)
	if err != nil {
		return err
	}
	o.plan = plan

	logger := log.WithRunID(plan.RunID)
	logger.Info().
		Str("root", plan.Root).
		Str("cluster_cidr", plan.ClusterCIDR.String()).
		Str("service_cidr", plan.ServiceCIDR.String()).
		Int("nodes", plan.NodeCount).
		Msg("planned cluster")

	if err := plan.CreateLayout(); err != nil {
		return err
	}
	if err := plan.Persist(); err != nil {
		return err
	}

	store, err := state.Open(filepath.Join(plan.DataDir(), "kubestrap.db"))
	if err != nil {
		return err
	}
	o.store = store
	if err := store.SaveRun(state.RunInfo{
		RunID:     plan.RunID,
		Hostname:  plan.Hostname,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	netw, err := network.Plan(plan)
	if err != nil {
		return err
	}
	o.netw = netw
	if !o.opts.SkipNetwork {
		if err := netw.WriteCNIConfig(plan.NetConfDir()); err != nil {
			return err
		}
		if err := netw.Apply(); err != nil {
			return err
		}
	}

	o.ca = pki.New(plan.CertsDir())
	if err := o.ca.Initialize(); err != nil {
		return err
	}
	if err := o.issueCertificates(); err != nil {
		return err
	}
	return o.writeKubeconfigs()
}

// issueCertificates issues every identity the components present or verify,
// concurrently. Issuance is idempotent, so a re-run over an existing root
// reuses what is already on disk.
func (o *Orchestrator) issueCertificates() error {
	hostname := o.plan.Hostname
	localIPs := []net.IP{net.ParseIP("127.0.0.1")}

	profiles := map[string]pki.Profile{
		types.ComponentEtcd: {
			CommonName: types.ComponentEtcd,
			DNSNames:   []string{"localhost", hostname},
			IPs:        localIPs,
			Server:     true,
			Client:     true,
		},
		types.ComponentAPIServer: {
			CommonName: types.ComponentAPIServer,
			DNSNames: []string{
				"localhost", hostname,
				"kubernetes", "kubernetes.default", "kubernetes.default.svc",
				"kubernetes.default.svc.cluster.local",
			},
			IPs:    append(localIPs, o.plan.APIServiceIP()),
			Server: true,
		},
		component.IdentityAPIServerEtcdClient: {
			CommonName: component.IdentityAPIServerEtcdClient,
			Client:     true,
		},
		component.IdentityAPIServerKubeletClient: {
			CommonName:   component.IdentityAPIServerKubeletClient,
			Organization: "system:masters",
			Client:       true,
		},
		component.IdentityAdmin: {
			CommonName:   component.IdentityAdmin,
			Organization: "system:masters",
			Client:       true,
		},
		types.ComponentControllerManager: {
			CommonName: "system:kube-controller-manager",
			Client:     true,
		},
		types.ComponentScheduler: {
			CommonName: "system:kube-scheduler",
			Client:     true,
		},
		types.ComponentKubelet: {
			CommonName:   "system:node:" + hostname,
			Organization: "system:nodes",
			DNSNames:     []string{"localhost", hostname},
			IPs:          localIPs,
			Server:       true,
			Client:       true,
		},
		types.ComponentProxy: {
			CommonName: "system:kube-proxy",
			Client:     true,
		},
		types.ComponentCoreDNS: {
			CommonName: types.ComponentCoreDNS,
			Client:     true,
		},
	}

	var g errgroup.Group
	for name, profile := range profiles {
		name, profile := name, profile
		g.Go(func() error {
			if _, err := o.ca.Issue(name, profile); err != nil {
				return err
			}
			metrics.CertificatesIssued.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, _, err := o.ca.ServiceAccountKeyPair(); err != nil {
		return err
	}
	return pki.WriteEncryptionConfig(filepath.Join(o.plan.ConfigsDir(), "encryption.yaml"))
}

// writeKubeconfigs renders the admin kubeconfig plus one per component that
// talks to the API server with its own identity.
func (o *Orchestrator) writeKubeconfigs() error {
	serverURL := o.plan.APIServerURL()

	admin, ok := o.ca.IssuedFor(component.IdentityAdmin)
	if !ok {
		return errdefs.Wrap(errdefs.ErrCrypto, "admin identity not issued")
	}
	if err := o.ca.WriteKubeconfig(o.plan.KubeconfigPath(), component.IdentityAdmin, serverURL, admin); err != nil {
		return err
	}

	for _, name := range []string{
		types.ComponentControllerManager,
		types.ComponentScheduler,
		types.ComponentKubelet,
		types.ComponentProxy,
	} {
		issued, ok := o.ca.IssuedFor(name)
		if !ok {
			return errdefs.Wrap(errdefs.ErrCrypto, "%s identity not issued", name)
		}
		if err := o.ca.WriteKubeconfig(o.plan.ComponentKubeconfig(name), name, serverURL, issued); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes /metrics on the loopback metrics port. The endpoint
// is best effort: a bind failure is logged, never fatal.
func (o *Orchestrator) serveMetrics() func() {
	addr := fmt.Sprintf("127.0.0.1:%d", o.plan.Ports.Metrics)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint unavailable")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

// watchEvents logs every component transition and remembers the first
// failure. Steady-state failures do not end the run: the supervisor already
// stopped the failed component and its dependents, and everything else is
// deliberately left running for inspection.
func (o *Orchestrator) watchEvents(fatal chan<- error) {
	for ev := range o.sup.Events() {
		logger := log.WithComponent(ev.Component)
		if ev.State == types.StateFailed {
			logger.Error().Err(ev.Err).Msg("component failed, dependents stopped; surviving components left running")
			select {
			case fatal <- ev.Err:
			default:
			}
			continue
		}
		logger.Debug().Str("state", string(ev.State)).Msg("state changed")
	}
}

// waitForEnd blocks until the run should end: a termination signal, a
// canceled context, or the interactive shell exiting.
func (o *Orchestrator) waitForEnd(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	shellDone := make(chan error, 1)
	if !o.opts.NoShell {
		go func() { shellDone <- o.runShell(ctx) }()
	}

	select {
	case sig := <-sigs:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	case <-ctx.Done():
		return nil
	case err := <-shellDone:
		if err != nil {
			log.Logger.Warn().Err(err).Msg("shell exited with error")
		}
		log.Logger.Info().Msg("shell exited, shutting down")
		return nil
	}
}

// teardown stops everything and removes run-only artifacts. Certificates,
// logs and the state database survive for inspection; sockets, pid files
// and host network plumbing do not.
func (o *Orchestrator) teardown() {
	if o.sup != nil {
		o.sup.StopAll()
	}
	if o.netw != nil && !o.opts.SkipNetwork {
		o.netw.Teardown()
	}
	o.cleanupRunArtifacts()
}

func (o *Orchestrator) cleanupRunArtifacts() {
	if o.plan == nil {
		return
	}
	entries, err := os.ReadDir(o.plan.RunDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(o.plan.RunDir(), entry.Name())
		if err := os.Remove(path); err != nil {
			log.Logger.Debug().Err(err).Str("path", path).Msg("leftover run artifact")
		}
	}
}

func (o *Orchestrator) close() {
	if o.store != nil {
		o.store.Close()
	}
}
