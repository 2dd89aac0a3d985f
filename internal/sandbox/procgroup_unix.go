//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup places the script in its own process group so that
// cancellation kills the whole tree, including anything the script spawned.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second
}
