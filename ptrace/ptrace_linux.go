package ptrace

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// TraceMe requests that the kernel trace the calling thread. Must be called
// from the child immediately after fork, before exec.
func TraceMe() error {
	return syscall.PtraceTraceme()
}

// Attach attaches to an already-running thread. The tracee receives a
// SIGSTOP; the caller must wait for it before issuing further ptrace calls.
func Attach(tid int) error {
	return syscall.PtraceAttach(tid)
}

// Seize attaches to a running thread without sending it a stop signal,
// using PTRACE_SEIZE. Callers must still reach a stop (e.g. via a group
// SIGSTOP) before issuing register or memory operations.
func Seize(tid int, options int) error {
	return unix.PtraceSeize(tid, options)
}

// Detach detaches from a thread, optionally delivering sig on resume.
func Detach(tid int, sig syscall.Signal) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, syscall.PTRACE_DETACH, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// SetOptions configures ptrace event options (PTRACE_O_TRACESYSGOOD,
// PTRACE_O_TRACECLONE, PTRACE_O_EXITKILL, ...).
func SetOptions(tid int, options int) error {
	return syscall.PtraceSetOptions(tid, options)
}

// Cont resumes a stopped thread, delivering sig (0 for none).
func Cont(tid int, sig syscall.Signal) error {
	return syscall.PtraceCont(tid, int(sig))
}

// SingleStep resumes a stopped thread for exactly one instruction.
func SingleStep(tid int) error {
	return syscall.PtraceSingleStep(tid)
}

// SingleStepSig resumes a stopped thread for exactly one instruction,
// delivering sig (0 for none). syscall.PtraceSingleStep has no signal
// parameter, so this goes directly through PTRACE_SINGLESTEP's data
// argument the same way syscall.PtraceCont does for PTRACE_CONT.
func SingleStepSig(tid int, sig syscall.Signal) error {
	const ptraceSingleStep = 9
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, ptraceSingleStep, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Syscall resumes a stopped thread, stopping again at the next syscall
// entry or exit (requires PTRACE_O_TRACESYSGOOD to disambiguate from
// signal stops).
func Syscall(tid int, sig syscall.Signal) error {
	return syscall.PtraceSyscall(tid, int(sig))
}

// Kill sends SIGKILL to the tracee via ptrace, guaranteeing delivery even
// if the tracee is group-stopped.
func Kill(tid int) error {
	return syscall.PtraceKill(tid)
}

// GetEventMsg retrieves the auxiliary event value (e.g. the new tid of a
// cloned thread) after a PTRACE_EVENT_* stop.
func GetEventMsg(tid int) (uint64, error) {
	msg, err := unix.PtraceGetEventMsg(tid)
	return msg, err
}

// PeekData reads one machine word from the tracee's address space.
func PeekData(tid int, addr uintptr) (uint64, error) {
	var word [8]byte
	n, err := syscall.PtracePeekData(tid, addr, word[:])
	if err != nil {
		return 0, err
	}
	if n != len(word) {
		return 0, syscall.EIO
	}
	return byteOrder.Uint64(word[:]), nil
}

// PokeData writes one machine word into the tracee's address space.
func PokeData(tid int, addr uintptr, data uint64) error {
	var word [8]byte
	byteOrder.PutUint64(word[:], data)
	_, err := syscall.PtracePokeData(tid, addr, word[:])
	return err
}

// Wait4 blocks until tid (or any child if tid == -1) changes state,
// reporting the raw wait status. __WALL is always set so group-stop
// notifications for non-main threads are not missed.
func Wait4(tid int) (ThreadStatus, error) {
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(tid, &status, unix.WALL, nil)
	if err != nil {
		return ThreadStatus{}, err
	}
	return ThreadStatus{Tid: wpid, Status: status}, nil
}

// Wait4NoHang drains one further ready wait status for any child in
// process group pgid without blocking, reporting ok == false if none is
// ready. It is used to pick up stops that raced the primary wait4 in
// WaitAllAndUpdateRegs's group-stop sweep.
func Wait4NoHang(pgid int) (st ThreadStatus, ok bool, err error) {
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(-pgid, &status, unix.WALL|unix.WNOHANG, nil)
	if err != nil {
		return ThreadStatus{}, false, err
	}
	if wpid <= 0 {
		return ThreadStatus{}, false, nil
	}
	return ThreadStatus{Tid: wpid, Status: status}, true, nil
}

// Tgkill delivers sig to the specific thread tid within thread group pid.
// Used to synchronize a stop-the-world request across every thread of the
// tracee without racing a concurrent exit or clone.
func Tgkill(pid, tid int, sig syscall.Signal) error {
	return unix.Tgkill(pid, tid, sig)
}
