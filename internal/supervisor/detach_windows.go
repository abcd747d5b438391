//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDetached creates the child in its own process group so it is not
// killed by console signals (Ctrl+C) delivered to the parent.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
