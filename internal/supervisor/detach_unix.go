//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDetached puts the child in its own session so it survives the
// parent exiting and does not receive signals sent to the parent's
// process group.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
