//go:build unix

package run

import (
	"os"
	"syscall"
)

// newSysProcAttr puts the tool into its own process group so that
// killProcessGroup also reaches the engines it spawns.
func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) {
	if p == nil || p.Pid <= 0 {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
	_ = p.Kill()
}
