package orchestrator

import (
	"context"
	"os"
	"os/exec"

	"github.com/cuemby/kubestrap/pkg/log"
)

// runShell drops the user into an interactive shell wired to the running
// cluster: KUBECONFIG points at the admin kubeconfig, and the configured
// binary directory is prepended to PATH. The shell's exit ends the run.
func (o *Orchestrator) runShell(ctx context.Context) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	log.Logger.Info().
		Str("shell", shell).
		Str("kubeconfig", o.plan.KubeconfigPath()).
		Msg("spawning interactive shell, exit to tear the cluster down")

	cmd := exec.CommandContext(ctx, shell)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	env := append(os.Environ(), "KUBECONFIG="+o.plan.KubeconfigPath())
	if o.plan.BinaryDir != "" {
		env = append(env, "PATH="+o.plan.BinaryDir+":"+os.Getenv("PATH"))
	}
	cmd.Env = env

	return cmd.Run()
}
