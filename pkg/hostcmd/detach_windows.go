//go:build windows

package hostcmd

import "syscall"

const detachedProcess = 0x00000008

func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: detachedProcess}
}
