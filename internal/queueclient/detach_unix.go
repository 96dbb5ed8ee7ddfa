//go:build !windows

package queueclient

import (
	"os/exec"
	"syscall"
)

// detachChild configures cmd to run detached from this process's
// controlling terminal and process group, so the daemon outlives the CLI
// invocation that launched it (Go has no native fork(); a fresh session
// via Setsid is the idiomatic substitute).
func detachChild(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
