package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/kubestrap/pkg/component"
	"github.com/cuemby/kubestrap/pkg/config"
	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/log"
)

// Process is one spawned component daemon. Its stdout and stderr go to a
// per-component log file, never to the supervisor's own streams.
type Process struct {
	name    string
	cmd     *exec.Cmd
	logPath string
	logFile *os.File
	pidPath string

	stopOnce sync.Once
	exited   chan struct{}

	mu      sync.Mutex
	waitErr error
}

// launch renders a component invocation onto disk and starts the daemon:
// config files first, then the log file, then the process, then the pid and
// command files for post-mortem inspection.
func launch(name string, inv *component.Invocation, plan *config.ClusterPlan) (*Process, error) {
	for path, content := range inv.Files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errdefs.WrapErr(errdefs.ErrFilesystem, err, "%s: config dir", name)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, errdefs.WrapErr(errdefs.ErrFilesystem, err, "%s: write %s", name, path)
		}
	}

	logPath := filepath.Join(plan.LogsDir(), name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrFilesystem, err, "%s: open log", name)
	}

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group so a stray SIGINT at the terminal does not reach
	// the daemons before the supervisor decides to stop them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, errdefs.WrapErr(errdefs.ErrProcessStart, err, "%s: exec %s", name, inv.Binary)
	}

	p := &Process{
		name:    name,
		cmd:     cmd,
		logPath: logPath,
		logFile: logFile,
		pidPath: filepath.Join(plan.RunDir(), name+".pid"),
		exited:  make(chan struct{}),
	}
	p.writeRunFiles(plan, inv)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		logFile.Close()
		close(p.exited)
	}()

	return p, nil
}

// writeRunFiles drops <name>.pid and an executable <name>.cmd into the run
// directory so a failed component can be re-run by hand with the exact
// arguments the supervisor used.
func (p *Process) writeRunFiles(plan *config.ClusterPlan, inv *component.Invocation) {
	logger := log.WithComponent(p.name)

	pid := strconv.Itoa(p.cmd.Process.Pid)
	if err := os.WriteFile(p.pidPath, []byte(pid+"\n"), 0o644); err != nil {
		logger.Warn().Err(err).Msg("failed to write pid file")
	}

	script := fmt.Sprintf("#!/usr/bin/env sh\nexec %s %s\n",
		inv.Binary, strings.Join(inv.Args, " \\\n  "))
	cmdPath := filepath.Join(plan.RunDir(), p.name+".cmd")
	if err := os.WriteFile(cmdPath, []byte(script), 0o755); err != nil {
		logger.Warn().Err(err).Msg("failed to write command file")
	}
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// LogPath returns the component's log file path.
func (p *Process) LogPath() string {
	return p.logPath
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the wait error after Exited is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop terminates the process: SIGTERM, a grace period, then SIGKILL. It is
// idempotent and always waits for the process to be reaped, so no zombie
// survives the supervisor.
func (p *Process) Stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		select {
		case <-p.exited:
		default:
			logger := log.WithComponent(p.name)
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Warn().Err(err).Msg("failed to send SIGTERM")
			}

			select {
			case <-p.exited:
			case <-time.After(grace):
				logger.Warn().Dur("grace", grace).Msg("did not stop gracefully, killing")
				if err := p.cmd.Process.Kill(); err != nil {
					logger.Warn().Err(err).Msg("failed to kill")
				}
				<-p.exited
			}
		}
		os.Remove(p.pidPath)
	})
}
