//go:build windows

package probe

import "syscall"

// sysProcAttr starts the helper without a console window.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow: true,
	}
}
