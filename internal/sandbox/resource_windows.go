//go:build windows

package sandbox

import "os/exec"

func applyHostResourceLimits(cmd *exec.Cmd, policy Policy) {
	// Windows has no POSIX process-group/ulimit equivalent exposed here;
	// the wall-clock context timeout still governs the child's lifetime.
}
