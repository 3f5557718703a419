//go:build !linux

package node

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
