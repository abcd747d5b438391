// Package supervisor spawns an engine as a detached child process,
// waits for it to become ready, and stops it through a
// graceful-then-escalating shutdown protocol.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dbforge/dbforge/internal/apperrors"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/resilience"
	"github.com/dbforge/dbforge/pkg/config"
	"github.com/dbforge/dbforge/pkg/logger"
)

// State is one node of the shutdown state machine below.
type State int

const (
	StateIdle State = iota
	StateGraceful
	StateSignaled
	StateForced
)

func (s State) String() string {
	switch s {
	case StateGraceful:
		return "graceful"
	case StateSignaled:
		return "signaled"
	case StateForced:
		return "forced"
	default:
		return "idle"
	}
}

// StatusResult reports whether a supervised process is alive.
type StatusResult struct {
	Running bool
	PID     int
	Message string
}

// GracefulShutdown is an engine-specific quiescence attempt (a
// documented shutdown command, a ping-based shutdown RPC, or a plain
// SIGTERM-analog) supplied by the calling adapter.
type GracefulShutdown func(ctx context.Context) error

// Supervisor spawns, probes, and stops engine processes, one
// container at a time. Multiple Supervisors never coordinate with
// each other — ordering guarantees come from the Container Manager's
// filesystem-existence check, not from locking here.
type Supervisor struct {
	cfg config.SupervisorConfig
	log *logger.Logger
}

// New builds a Supervisor.
func New(cfg config.SupervisorConfig, log *logger.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log}
}

// Spawn starts cmd detached — stdio redirected so no parent file
// descriptor keeps the child alive — and writes its PID to pidFile
// unless writesOwnPID is true (the engine daemonizes and records its
// own PID file at that same path).
func (s *Supervisor) Spawn(cmd *exec.Cmd, pidFile, logFile string, writesOwnPID bool) (int, error) {
	logOut, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file %s: %w", logFile, err)
	}
	cmd.Stdout = logOut
	cmd.Stderr = logOut
	cmd.Stdin = nil
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		logOut.Close()
		return 0, fmt.Errorf("spawn: %w", err)
	}
	pid := cmd.Process.Pid

	// Release our handle so the child's stdio fds are not kept open by
	// this process past Start(); the child holds its own copy.
	go func() {
		_ = cmd.Wait()
		logOut.Close()
	}()

	if !writesOwnPID {
		if err := writePIDFile(pidFile, pid); err != nil {
			return pid, fmt.Errorf("write pid file: %w", err)
		}
	}
	return pid, nil
}

// WaitReady polls probe at s.cfg.PollInterval until it returns true or
// timeout elapses.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration, probe func() bool) bool {
	return resilience.Poll(ctx, s.cfg.PollInterval, timeout, probe)
}

// RediscoverPID looks up the process actually bound to port and
// overwrites pidFile with it. Used after readiness succeeds for
// binaries that re-fork after the initial exec (daemonizing servers,
// Cygwin-built engines on Windows).
func (s *Supervisor) RediscoverPID(port int, pidFile string) (int, error) {
	pids, err := platform.FindProcessByPort(port)
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		return 0, fmt.Errorf("no process found bound to port %d", port)
	}
	pid := int(pids[0])
	if err := writePIDFile(pidFile, pid); err != nil {
		return pid, fmt.Errorf("write pid file: %w", err)
	}
	return pid, nil
}

// Status reads pidFile and reports whether that process is alive.
// This is the authoritative liveness check other packages rely on.
func (s *Supervisor) Status(pidFile string) StatusResult {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return StatusResult{Running: false, Message: "no pid file"}
	}
	if platform.IsProcessAlive(pid) {
		return StatusResult{Running: true, PID: pid, Message: "running"}
	}
	return StatusResult{Running: false, PID: pid, Message: "stale pid file"}
}

// IsRunning is Status().Running, for callers that only need the bool.
func (s *Supervisor) IsRunning(pidFile string) bool {
	return s.Status(pidFile).Running
}

// Stop drives the Idle -> Graceful -> Signaled -> Forced -> Idle
// protocol. graceful may be nil if the engine has no documented
// quiescence command; the state machine then starts at Signaled.
func (s *Supervisor) Stop(ctx context.Context, pidFile string, graceful GracefulShutdown) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return nil // nothing to stop
	}
	if !platform.IsProcessAlive(pid) {
		_ = os.Remove(pidFile)
		return nil
	}

	if graceful != nil {
		s.logState(pid, StateGraceful)
		if err := graceful(ctx); err != nil && s.log != nil {
			s.log.WithField("pid", pid).WithField("error", err).Debug("graceful shutdown command failed, escalating")
		}
		if platform.WaitGone(pid, s.cfg.PollInterval, s.cfg.GracefulTimeout) {
			_ = os.Remove(pidFile)
			s.logState(pid, StateIdle)
			return nil
		}
	}

	signalTimeout := s.cfg.SignalTimeout
	if platform.GetPlatformInfo().OS == "win32" {
		signalTimeout = s.cfg.WindowsSignalTimeout
	}
	s.logState(pid, StateSignaled)
	if err := platform.TerminateProcess(pid, false); err != nil && s.log != nil {
		s.log.WithField("pid", pid).WithField("error", err).Debug("signaled terminate failed, escalating to force")
	}
	if platform.WaitGone(pid, s.cfg.PollInterval, signalTimeout) {
		_ = os.Remove(pidFile)
		s.logState(pid, StateIdle)
		return nil
	}

	s.logState(pid, StateForced)
	if err := platform.TerminateProcess(pid, true); err != nil && s.log != nil {
		s.log.WithField("pid", pid).WithField("error", err).Warn("forced kill returned an error")
	}
	settle := s.cfg.ForcedSettleTimeout
	if platform.GetPlatformInfo().OS == "win32" {
		settle += 3 * time.Second
	}
	if platform.WaitGone(pid, s.cfg.PollInterval, settle) {
		_ = os.Remove(pidFile)
		s.logState(pid, StateIdle)
		return nil
	}

	return apperrors.ProcessStopTimeout(pid)
}

func (s *Supervisor) logState(pid int, state State) {
	if s.log == nil {
		return
	}
	s.log.WithField("pid", pid).WithField("state", state.String()).Debug("shutdown state transition")
}

func writePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
