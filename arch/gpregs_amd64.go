//go:build linux && amd64

package arch

import "syscall"

// GPRegs is the x86_64 general-purpose register set. The kernel's
// PTRACE_GETREGS/SETREGS calls operate on exactly this layout through the
// standard library's syscall.PtraceRegs, so no translation layer is
// needed here.
type GPRegs = syscall.PtraceRegs
