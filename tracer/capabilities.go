package tracer

import (
	"syscall"
	"unsafe"

	tracererrors "tracer-go/errors"
)

// capSysPtrace is CAP_SYS_PTRACE from linux/capability.h.
const capSysPtrace = 19

const linuxCapabilityVersion3 = 0x20080522

type capHeader struct {
	Version uint32
	Pid     int32
}

type capData struct {
	Effective   uint32
	Permitted   uint32
	Inheritable uint32
}

// HasPtraceCapability reports whether the calling process currently
// holds CAP_SYS_PTRACE in its effective set, via capget(2). Attaching to
// a thread the caller does not own (a different uid, or one outside the
// Yama ptrace scope) requires this capability even when running as root
// on a kernel with Yama restrictions relaxed.
func HasPtraceCapability() (bool, error) {
	header := capHeader{Version: linuxCapabilityVersion3, Pid: 0}
	var data [2]capData

	_, _, errno := syscall.Syscall(syscall.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return false, tracererrors.Wrap(errno, tracererrors.ErrKernelCall, "HasPtraceCapability")
	}

	effective := uint64(data[0].Effective) | (uint64(data[1].Effective) << 32)
	return effective&(1<<capSysPtrace) != 0, nil
}
