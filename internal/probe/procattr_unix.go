//go:build !windows

package probe

import "syscall"

// sysProcAttr puts the helper in its own process group so signals aimed at
// mounterctl do not reach it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
