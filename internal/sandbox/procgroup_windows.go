//go:build windows

package sandbox

import (
	"os/exec"
	"time"
)

// setProcGroup configures cancellation behavior on Windows. Process groups
// are not available, so only the script itself is killed; WaitDelay keeps
// Wait from hanging on inherited pipe handles.
func setProcGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 3 * time.Second
}
