package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/log"
	"github.com/cuemby/kubestrap/pkg/orchestrator"
	"github.com/cuemby/kubestrap/pkg/state"
	"github.com/cuemby/kubestrap/pkg/supervisor"
	"github.com/cuemby/kubestrap/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kubestrap",
	Short: "Kubestrap - single-host Kubernetes cluster bootstrapper",
	Long: `Kubestrap boots a complete local Kubernetes cluster as plain host
processes: etcd, the control plane, CRI-O, the kubelet, kube-proxy and
CoreDNS, wired together with a private PKI and a bridged pod network.

It exists for fast development loops: one command up, Ctrl-D down,
nothing left behind but certificates and logs.`,
	Version: Version,
}

var (
	flagRoot        string
	flagCIDR        string
	flagServiceCIDR string
	flagNodes       int
	flagBinaryDir   string
	flagLogLevel    string
	flagNoShell     bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Boot the cluster and keep it running",
	Long: `Boot the cluster, then drop into an interactive shell with KUBECONFIG
set. Exiting the shell (or SIGINT/SIGTERM) tears the cluster down. With
--no-shell the cluster runs until a signal arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.Level(flagLogLevel)})

		o := orchestrator.New(orchestrator.Options{
			Overrides: config.Overrides{
				Root:        flagRoot,
				ClusterCIDR: flagCIDR,
				ServiceCIDR: flagServiceCIDR,
				Nodes:       flagNodes,
				BinaryDir:   flagBinaryDir,
			},
			Tunables: supervisor.DefaultTunables(),
			NoShell:  flagNoShell,
		})

		// Run returns an error only for failure-driven teardowns; the
		// non-zero exit distinguishes them from a user-initiated stop.
		cmd.SilenceUsage = true
		return o.Run(context.Background())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded component states",
	Long: `Read the state database of the most recent run under the root directory
and print each component's last recorded state. Works whether or not the
cluster is still running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := flagRoot
		if root == "" {
			root = config.DefaultRoot
		}
		store, err := state.Open(filepath.Join(root, "data", "kubestrap.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.LoadRun()
		if err != nil {
			return fmt.Errorf("no recorded run under %s: %w", root, err)
		}
		fmt.Printf("Run %s on %s, started %s\n\n", run.RunID, run.Hostname,
			run.StartedAt.Format("2006-01-02 15:04:05 MST"))

		components, err := store.ListComponents()
		if err != nil {
			return err
		}
		for _, st := range components {
			line := fmt.Sprintf("  %-24s %s", st.Name, st.State)
			if st.State.Running() && st.PID != 0 {
				line += fmt.Sprintf(" (pid %d)", st.PID)
			}
			if st.Failures > 0 && st.State != types.StateFailed {
				line += fmt.Sprintf(" [%d probe failures]", st.Failures)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Kubestrap version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	upCmd.Flags().StringVar(&flagRoot, "root", "", "root directory for all cluster artifacts (default \"kubestrap-run\")")
	upCmd.Flags().StringVar(&flagCIDR, "cidr", "", "pod network CIDR (default \""+config.DefaultClusterCIDR+"\")")
	upCmd.Flags().StringVar(&flagServiceCIDR, "service-cidr", "", "service network CIDR (default \""+config.DefaultServiceCIDR+"\")")
	upCmd.Flags().IntVar(&flagNodes, "nodes", 1, "number of simulated nodes (pod subnets)")
	upCmd.Flags().StringVar(&flagBinaryDir, "binary-dir", "", "directory holding the component binaries (default $PATH lookup)")
	upCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	upCmd.Flags().BoolVar(&flagNoShell, "no-shell", false, "run until a signal instead of spawning an interactive shell")

	statusCmd.Flags().StringVar(&flagRoot, "root", "", "root directory of the run to inspect")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
}
