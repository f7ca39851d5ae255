//go:build !unix

package sandbox

import "os/exec"

func processIsolationSupported() bool { return false }

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
