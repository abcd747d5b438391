// Package platform abstracts the OS-specific facts dbforge needs:
// executable suffixes, PATH lookup, port probing, and process
// liveness/termination. Everything here is a pure query or a narrowly
// scoped side effect; nothing here owns state.
package platform

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dbforge/dbforge/internal/apperrors"
)

// Info is the (OS, architecture) tuple dbforge runs on.
type Info struct {
	OS   string
	Arch string
}

// GetPlatformInfo returns the running process's OS/arch, normalized to
// the vocabulary the artifact registry uses (darwin/linux/win32,
// x64/arm64).
func GetPlatformInfo() Info {
	osName := runtime.GOOS
	if osName == "windows" {
		osName = "win32"
	}
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x64"
	}
	return Info{OS: osName, Arch: arch}
}

// SupportedPlatform reports whether the given OS/arch tuple is one
// dbforge can download engine binaries for.
func SupportedPlatform(info Info) bool {
	switch info.OS {
	case "darwin", "linux", "win32":
	default:
		return false
	}
	switch info.Arch {
	case "x64", "arm64":
	default:
		return false
	}
	return true
}

// RequireSupportedPlatform returns an UNSUPPORTED_PLATFORM error if
// info is not one dbforge supports for binary downloads.
func RequireSupportedPlatform(info Info) error {
	if !SupportedPlatform(info) {
		return apperrors.UnsupportedPlatform(info.OS, info.Arch)
	}
	return nil
}

// ExecutableExtension returns the suffix appended to tool binary names
// on the current OS ("" everywhere except win32, where it is ".exe").
func ExecutableExtension() string {
	if GetPlatformInfo().OS == "win32" {
		return ".exe"
	}
	return ""
}

// FindToolOnPath searches PATH for name using the OS-appropriate
// lookup and returns its absolute path, or "" if not found. Unlike
// every other Platform Service function, a not-found result here is
// not an error: callers treat it as "fall back to another source".
func FindToolOnPath(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// IsPortAvailable attempts a short-lived listen on 127.0.0.1:port to
// determine whether the port is free.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindProcessByPort returns the PIDs of processes with a listening or
// established TCP socket whose local port is port, on any local
// address.
func FindProcessByPort(port int) ([]int32, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, fmt.Errorf("list tcp connections: %w", err)
	}
	var pids []int32
	seen := make(map[int32]bool)
	for _, c := range conns {
		if int(c.Laddr.Port) != port {
			continue
		}
		if c.Pid == 0 || seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true
		pids = append(pids, c.Pid)
	}
	return pids, nil
}

// IsProcessAlive reports whether pid refers to a running process.
func IsProcessAlive(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil {
		return false
	}
	return running
}

// TerminateProcess sends a graceful or forced termination signal to
// pid, depending on force and the host OS.
func TerminateProcess(pid int, force bool) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone; nothing to terminate.
		return nil
	}

	if force {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("kill process %d: %w", pid, err)
		}
		return nil
	}

	if err := proc.Terminate(); err != nil {
		return fmt.Errorf("terminate process %d: %w", pid, err)
	}
	return nil
}

// WaitGone polls until pid is no longer alive or the deadline elapses,
// returning whether the process is gone.
func WaitGone(pid int, pollInterval, deadline time.Duration) bool {
	if !IsProcessAlive(pid) {
		return true
	}
	elapsed := time.Duration(0)
	for elapsed < deadline {
		time.Sleep(pollInterval)
		elapsed += pollInterval
		if !IsProcessAlive(pid) {
			return true
		}
	}
	return !IsProcessAlive(pid)
}
