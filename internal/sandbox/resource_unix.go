//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// applyHostResourceLimits puts the child in its own process group so the
// wall-clock timeout's context cancellation (which sends SIGKILL to the
// direct child only) can be escalated to the whole group by the caller if
// needed, and so a client disconnect signals the child rather than leaking
// it (spec §5).
func applyHostResourceLimits(cmd *exec.Cmd, policy Policy) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
