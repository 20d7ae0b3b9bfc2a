//go:build !unix

package run

import (
	"os"
	"syscall"
)

func newSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killProcessGroup(p *os.Process) {
	if p == nil {
		return
	}
	_ = p.Kill()
}
