package node

import "syscall"

// The kernel kills the server if this process dies without running its exit hooks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
