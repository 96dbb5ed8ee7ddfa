//go:build windows

package queueclient

import "os/exec"

// detachChild is a no-op on Windows; this module targets POSIX daemon
// deployments and Windows support is not a design goal here.
func detachChild(cmd *exec.Cmd) {}
