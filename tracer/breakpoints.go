package tracer

import (
	"tracer-go/arch"
	"tracer-go/breakpoint"
	tracererrors "tracer-go/errors"
	"tracer-go/ptrace"
)

// RegisterBreakpoint reads the machine word at addr, computes the
// architecture's patched (trap-opcode) encoding, writes it back into the
// tracee's memory, and records the breakpoint. Re-registering an
// address that already has an entry (including one previously
// Disabled) re-enables and returns that entry rather than erroring. It
// is the single entry point spec.md §4.3 names for installing a
// software breakpoint; the breakpoint package itself only does the
// bookkeeping half, since only this package holds the live pid needed
// for the peek/poke.
func (tr *Tracer) RegisterBreakpoint(addr uint64) (*breakpoint.Software, error) {
	tids := tr.Threads.LiveTids()
	if len(tids) == 0 {
		return nil, tracererrors.ErrNotAttached
	}
	anyTid := tids[0]

	original, err := ptrace.PeekData(anyTid, uintptr(addr))
	if err != nil {
		return nil, tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "RegisterBreakpoint", addr)
	}
	sw, err := tr.SW.RegisterBreakpoint(tr.Arch, addr, original)
	if err != nil {
		return nil, err
	}
	if err := ptrace.PokeData(anyTid, uintptr(addr), sw.Patched); err != nil {
		return nil, tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "RegisterBreakpoint", addr)
	}
	return sw, nil
}

// UnregisterBreakpoint drops addr from the software breakpoint table.
// Per spec.md's Design Notes, this does not restore memory; a caller
// that needs the original bytes back in the tracee must Disable first
// (which WaitAllAndUpdateRegs's restoreOriginalCode and a following
// PrepareForRun's patchAllEnabled already keep in sync for *enabled*
// breakpoints, but an enabled-then-unregistered address is left patched
// by design — see DESIGN.md).
func (tr *Tracer) UnregisterBreakpoint(addr uint64) error {
	_, err := tr.SW.UnregisterBreakpoint(addr)
	return err
}

// EnableBreakpoint and DisableBreakpoint toggle a software breakpoint's
// logical state; the in-memory patch itself is applied or removed on the
// next PrepareForRun/WaitAllAndUpdateRegs boundary, not immediately.
func (tr *Tracer) EnableBreakpoint(addr uint64) error  { return tr.SW.Enable(addr) }
func (tr *Tracer) DisableBreakpoint(addr uint64) error { return tr.SW.Disable(addr) }

// RegisterHWBreakpoint programs a hardware breakpoint or watchpoint on
// tid via the architecture adapter and records it for later hit-testing.
func (tr *Tracer) RegisterHWBreakpoint(tid int, addr uint64, kind arch.WatchKind, length arch.WatchLength) (*arch.HWBreakpoint, error) {
	return tr.HW.RegisterHWBreakpoint(tr.Arch, tid, addr, kind, length)
}

// UnregisterHWBreakpoint removes the hardware breakpoint at (tid, addr).
func (tr *Tracer) UnregisterHWBreakpoint(tid int, addr uint64) error {
	return tr.HW.UnregisterHWBreakpoint(tr.Arch, tid, addr)
}

// EnableHWBreakpoint and DisableHWBreakpoint reinstall or clear a
// hardware breakpoint's debug-register slot without discarding its
// bookkeeping entry.
func (tr *Tracer) EnableHWBreakpoint(tid int, addr uint64) error {
	return tr.HW.EnableHW(tr.Arch, tid, addr)
}
func (tr *Tracer) DisableHWBreakpoint(tid int, addr uint64) error {
	return tr.HW.DisableHW(tr.Arch, tid, addr)
}

// GetHitHWBreakpoint returns the address of the first hardware
// breakpoint on tid that the adapter reports as hit, or 0, false if none.
func (tr *Tracer) GetHitHWBreakpoint(tid int) (uint64, bool, error) {
	bp, hit, err := tr.HW.GetHitHWBreakpoint(tr.Arch, tid)
	if err != nil || !hit {
		return 0, false, err
	}
	return bp.Addr, true, nil
}
