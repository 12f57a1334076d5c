// Package tracer is the run/stop coordinator: it owns one traced
// process's thread table and breakpoint tables, and drives the
// stop-the-world protocol that keeps every thread's register cache
// coherent with the kernel across a continue/wait cycle.
package tracer

import (
	"syscall"

	"tracer-go/arch"
	"tracer-go/breakpoint"
	tracererrors "tracer-go/errors"
	"tracer-go/logging"
	"tracer-go/ptrace"
	"tracer-go/thread"
)

// Tracer coordinates ptrace control of every thread in one traced
// process. A Tracer is not safe for concurrent use from multiple
// goroutines driving the same tracee; the run/stop protocol assumes a
// single controller goroutine, matching the kernel's own requirement
// that only the attaching thread issue ptrace calls.
type Tracer struct {
	Pid     int
	Arch    arch.Arch
	Threads *thread.Table
	SW      *breakpoint.SoftwareTable
	HW      *breakpoint.HardwareTable
}

// New returns a Tracer for pid, resolving the architecture adapter for
// the running GOARCH.
func New(pid int) (*Tracer, error) {
	a, err := arch.Current()
	if err != nil {
		return nil, err
	}
	return &Tracer{
		Pid:     pid,
		Arch:    a,
		Threads: thread.NewTable(),
		SW:      breakpoint.NewSoftwareTable(),
		HW:      breakpoint.NewHardwareTable(),
	}, nil
}

// TraceMe requests tracing of the calling thread. Must run in the child
// between fork and exec. Spawn does not call it: it sets os/exec's
// SysProcAttr.Ptrace, which makes the same request in the child.
func TraceMe() error {
	return ptrace.TraceMe()
}

// Attach attaches to tid, registering it in the thread table. The caller
// must still observe the resulting SIGSTOP via WaitAllAndUpdateRegs
// before issuing register or memory operations against tid.
func (tr *Tracer) Attach(tid int) error {
	if err := ptrace.Attach(tid); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "Attach", tid)
	}
	tr.Threads.RegisterThread(tid)
	return nil
}

// SetOptions configures ptrace event delivery for tid (clone/fork/exec
// tracing, syscall-stop disambiguation, exit-on-kill).
func (tr *Tracer) SetOptions(tid int, options int) error {
	if err := ptrace.SetOptions(tid, options); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SetOptions", tid)
	}
	return nil
}

// NewChildFromEvent reads the new tid out of a PTRACE_EVENT_CLONE/FORK/
// VFORK stop on parentTid and registers it in the thread table. The
// kernel auto-attaches event children when PTRACE_O_TRACECLONE (or
// FORK/VFORK) is set, so no separate Attach call is needed for them.
func (tr *Tracer) NewChildFromEvent(parentTid int) (int, error) {
	msg, err := ptrace.GetEventMsg(parentTid)
	if err != nil {
		return 0, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "NewChildFromEvent", parentTid)
	}
	childTid := int(msg)
	tr.Threads.RegisterThread(childTid)
	return childTid, nil
}

// DetachForMigration flushes cached registers, queues a SIGSTOP for tid
// and then detaches it, so the thread stops again right after the detach.
// This hands control to another controller (e.g. a follow-up gdbserver
// session) that expects to attach to a cleanly-stopped thread.
func (tr *Tracer) DetachForMigration(tid int) error {
	tr.flushAll()
	if err := ptrace.Tgkill(tr.Pid, tid, syscall.SIGSTOP); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "DetachForMigration", tid)
	}
	if err := ptrace.Detach(tid, 0); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "DetachForMigration", tid)
	}
	tr.Threads.UnregisterThread(tid)
	return nil
}

// ReattachFromGDB re-attaches to tid after another controller has
// released it, re-registering it in the thread table. The caller must
// still wait for the resulting stop before further operations.
func (tr *Tracer) ReattachFromGDB(tid int) error {
	return tr.Attach(tid)
}

// DetachAndCont detaches tid, delivering sig so the tracee resumes
// execution (0 for a silent resume).
func (tr *Tracer) DetachAndCont(tid int, sig syscall.Signal) error {
	tr.flushAll()
	if err := ptrace.Detach(tid, sig); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "DetachAndCont", tid)
	}
	tr.Threads.UnregisterThread(tid)
	return nil
}

// DetachForKill sends PTRACE_KILL to tid and then drops tid from the
// live thread set. It does not issue PTRACE_DETACH and does not wait for
// the tracee to exit. If PTRACE_KILL fails the error is returned and tid
// stays registered.
func (tr *Tracer) DetachForKill(tid int) error {
	if err := ptrace.Kill(tid); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "DetachForKill", tid)
	}
	tr.Threads.UnregisterThread(tid)
	return nil
}

func (tr *Tracer) refreshRegs(tid int) error {
	entry, ok := tr.Threads.GetThread(tid)
	if !ok {
		return tracererrors.ErrThreadNotFound
	}
	if err := tr.Arch.GetGPR(tid, &entry.GPR); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "refreshRegs", tid)
	}
	entry.FPR.Kind = tr.Arch.DefaultFPKind()
	if err := tr.Arch.GetFPR(tid, &entry.FPR); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "refreshRegs", tid)
	}
	return nil
}

// flushAll writes every live thread's cached GPRs back to the kernel.
// Per spec.md §5's "flush before resume" guarantee, no resume entry point
// may call the kernel without first writing every live thread's cached
// registers; failures are logged and otherwise ignored, matching §7's
// "kernel-call failures are logged, not fatal" policy for this step.
func (tr *Tracer) flushAll() {
	for _, tid := range tr.Threads.LiveTids() {
		entry, ok := tr.Threads.GetThread(tid)
		if !ok {
			continue
		}
		if err := tr.Arch.SetGPR(tid, &entry.GPR); err != nil {
			logging.Default().Warn("flush registers failed", "tid", tid, "err", err)
		}
	}
}

// stepOffOwnBreakpoint steps tid over a software breakpoint installed
// exactly at its current instruction pointer, so a following resume does
// not immediately re-trap the thread on its own breakpoint. It is a
// no-op if tid is not currently stopped on a registered, enabled
// breakpoint address. A single-step absorbed by a concurrent group-stop
// (reported as a plain SIGSTOP rather than the step's SIGTRAP) is retried
// once, per spec.md §4.4.
func (tr *Tracer) stepOffOwnBreakpoint(tid int) error {
	entry, ok := tr.Threads.GetThread(tid)
	if !ok {
		return tracererrors.ErrThreadNotFound
	}
	ip := tr.Arch.InstructionPointer(&entry.GPR)
	sw, found := tr.SW.Get(ip)
	if !found || !sw.Enabled {
		return nil
	}

	if err := ptrace.PokeData(tid, uintptr(ip), sw.Original); err != nil {
		return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
	}
	if err := ptrace.SingleStep(tid); err != nil {
		return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
	}
	st, err := ptrace.Wait4(tid)
	if err != nil {
		return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
	}
	if ptrace.IsStopSignal(st.Status, syscall.SIGSTOP) {
		// A group-stop raced the single-step; it did not consume an
		// instruction, so step again.
		if err := ptrace.SingleStep(tid); err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
		}
		if _, err := ptrace.Wait4(tid); err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
		}
	}
	if err := ptrace.PokeData(tid, uintptr(ip), sw.Patched); err != nil {
		return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "stepOffOwnBreakpoint", ip)
	}
	return tr.refreshRegs(tid)
}

// PrepareForRun flushes every live thread's registers, steps each thread
// currently stopped on its own enabled software breakpoint past it, and
// re-patches every enabled breakpoint's trap opcode into memory. It is
// the precondition spec.md §4.4 requires before any resume: on return,
// every thread is flushed, clear of whatever breakpoint it was stopped
// on, and the code image has every enabled breakpoint installed.
func (tr *Tracer) PrepareForRun() error {
	tr.flushAll()
	for _, tid := range tr.Threads.LiveTids() {
		if err := tr.stepOffOwnBreakpoint(tid); err != nil {
			return err
		}
	}
	return tr.patchAllEnabled()
}

// patchAllEnabled (re)installs every enabled software breakpoint's trap
// opcode into the tracee's memory — a no-op for addresses already
// patched, since InstallBreakpoint is idempotent.
func (tr *Tracer) patchAllEnabled() error {
	tids := tr.Threads.LiveTids()
	if len(tids) == 0 {
		return tracererrors.ErrNotAttached
	}
	anyTid := tids[0]

	for _, sw := range tr.SW.All() {
		if !sw.Enabled {
			continue
		}
		cur, err := ptrace.PeekData(anyTid, uintptr(sw.Addr))
		if err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "patchAllEnabled", sw.Addr)
		}
		if tr.Arch.IsSWBreakpointOpcode(cur) {
			continue
		}
		if err := ptrace.PokeData(anyTid, uintptr(sw.Addr), sw.Patched); err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "patchAllEnabled", sw.Addr)
		}
	}
	return nil
}

// ContAllAndSetBPs calls PrepareForRun, then resumes every live thread,
// forwarding each thread's pending signal exactly once.
func (tr *Tracer) ContAllAndSetBPs() error {
	if err := tr.PrepareForRun(); err != nil {
		return err
	}

	for _, tid := range tr.Threads.LiveTids() {
		entry, ok := tr.Threads.GetThread(tid)
		if !ok {
			continue
		}
		sig := syscall.Signal(entry.SignalToForward)
		entry.SignalToForward = 0
		if err := ptrace.Cont(tid, sig); err != nil {
			return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "ContAllAndSetBPs", tid)
		}
	}
	return nil
}

// handleStop updates the thread table for one wait status: it unregisters
// exited threads, refreshes register caches for stopped ones, rewinds the
// instruction pointer back onto a software breakpoint's address when the
// trap opcode is what caused the stop, and records any other
// signal-delivery-stop to be forwarded on the next continue.
func (tr *Tracer) handleStop(st ptrace.ThreadStatus) error {
	if st.Status.Exited() || st.Status.Signaled() {
		tr.Threads.UnregisterThread(st.Tid)
		return nil
	}
	if !st.Status.Stopped() {
		return nil
	}

	tr.Threads.RegisterThread(st.Tid)
	if err := tr.refreshRegs(st.Tid); err != nil {
		return err
	}
	entry, _ := tr.Threads.GetThread(st.Tid)

	sig := st.Status.StopSignal()
	switch {
	case sig == syscall.SIGTRAP:
		ip := tr.Arch.InstructionPointer(&entry.GPR)
		trapAddr := ip - swBreakpointTrapWidth
		if sw, found := tr.SW.Get(trapAddr); found && sw.Enabled {
			word, err := ptrace.PeekData(st.Tid, uintptr(trapAddr))
			if err == nil && tr.Arch.IsSWBreakpointOpcode(word) {
				tr.Arch.SetInstructionPointer(&entry.GPR, trapAddr)
				if err := tr.Arch.SetGPR(st.Tid, &entry.GPR); err != nil {
					return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "handleStop", st.Tid)
				}
			}
		}
		entry.SignalToForward = 0
	case ptrace.IsStopSignal(st.Status, syscall.SIGSTOP):
		// Group-stop requested by WaitAllAndUpdateRegs itself; nothing
		// to forward.
		entry.SignalToForward = 0
	default:
		entry.SignalToForward = int(sig)
	}
	return nil
}

// swBreakpointTrapWidth is the x86_64 INT3 trap width. The same constant
// is used on every architecture: AArch64's BRK leaves the instruction
// pointer on the breakpoint itself, so ip-1 is never a 4-byte-aligned
// registered address there and handleStop does no rewind.
const swBreakpointTrapWidth = 1

// WaitAllAndUpdateRegs blocks for the first thread-state change in the
// tracee, then sends a thread-directed SIGSTOP to every other live thread
// that is still running (one whose GPR read fails) and waits for each of
// those in turn, so the caller always
// regains control with the entire thread group quiesced and every live
// thread's register cache current.
func (tr *Tracer) WaitAllAndUpdateRegs() ([]ptrace.ThreadStatus, error) {
	first, err := ptrace.Wait4(-1)
	if err != nil {
		return nil, tracererrors.WrapWithDetail(err, tracererrors.ErrKernelCall, "WaitAllAndUpdateRegs", "initial wait4")
	}
	statuses := []ptrace.ThreadStatus{first}
	if err := tr.handleStop(first); err != nil {
		return statuses, err
	}

	// Probe each other live thread with a GPR read before signaling it: a
	// thread already in ptrace-stop (e.g. it hit its own breakpoint at
	// the same moment as `first`) accepts GETREGSET/GETREGS without
	// producing any new wait-status transition, so sending it a
	// redundant SIGSTOP and then blocking on Wait4 for that transition
	// would hang forever. Only threads that are still running get
	// signaled and waited on.
	var needsWait []int
	for _, tid := range tr.Threads.LiveTids() {
		if tid == first.Tid {
			continue
		}
		entry, ok := tr.Threads.GetThread(tid)
		if !ok {
			continue
		}
		if err := tr.Arch.GetGPR(tid, &entry.GPR); err == nil {
			if err := tr.refreshRegs(tid); err != nil {
				logging.Default().Warn("refreshRegs failed for already-stopped thread", "tid", tid, "err", err)
			}
			continue
		}
		needsWait = append(needsWait, tid)
		if err := ptrace.Tgkill(tr.Pid, tid, syscall.SIGSTOP); err != nil {
			continue // thread likely exited between LiveTids() and here
		}
	}
	for _, tid := range needsWait {
		st, err := ptrace.Wait4(tid)
		if err != nil {
			continue
		}
		statuses = append(statuses, st)
		if err := tr.handleStop(st); err != nil {
			logging.Default().Warn("handleStop failed during group stop", "tid", tid, "err", err)
		}
	}

	// Drain any further statuses that became ready while the sweep above
	// was running (e.g. a thread that exited concurrently with its own
	// forced SIGSTOP).
	for {
		st, ok, err := ptrace.Wait4NoHang(tr.Pid)
		if err != nil || !ok {
			break
		}
		statuses = append(statuses, st)
		if err := tr.handleStop(st); err != nil {
			logging.Default().Warn("handleStop failed during WNOHANG drain", "tid", st.Tid, "err", err)
		}
	}

	if err := tr.restoreOriginalCode(); err != nil {
		logging.Default().Warn("restoreOriginalCode failed", "err", err)
	}
	return statuses, nil
}

// restoreOriginalCode writes original_word back over every enabled
// software breakpoint's address, leaving the code image clean for the
// caller to read or single-step until the next PrepareForRun. This is
// the complement of patchAllEnabled and holds the invariant that,
// immediately after a stop, memory at every enabled breakpoint reads as
// its pre-patch bytes.
func (tr *Tracer) restoreOriginalCode() error {
	tids := tr.Threads.LiveTids()
	if len(tids) == 0 {
		return nil
	}
	anyTid := tids[0]
	for _, sw := range tr.SW.All() {
		if !sw.Enabled {
			continue
		}
		if err := ptrace.PokeData(anyTid, uintptr(sw.Addr), sw.Original); err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "restoreOriginalCode", sw.Addr)
		}
	}
	return nil
}
