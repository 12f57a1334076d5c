package breakpoint

import "tracer-go/arch"

// fakeArch is an in-memory stand-in for arch.Arch so breakpoint table
// logic can be unit-tested without a real tracee. It models exactly the
// x86_64 constraint this package cares about: four hardware slots per
// thread, shared between breakpoints and watchpoints.
type fakeArch struct {
	slotsPerTid map[int]int
	hitSlots    map[int]map[int]bool // tid -> slot -> hit
}

func newFakeArch() *fakeArch {
	return &fakeArch{
		slotsPerTid: make(map[int]int),
		hitSlots:    make(map[int]map[int]bool),
	}
}

const fakeMaxSlots = 4

func (f *fakeArch) Name() string { return "fake" }

func (f *fakeArch) GetGPR(tid int, out *arch.GPRegs) error { return nil }
func (f *fakeArch) SetGPR(tid int, in *arch.GPRegs) error  { return nil }
func (f *fakeArch) GetFPR(tid int, out *arch.FPRegs) error { return nil }
func (f *fakeArch) SetFPR(tid int, in *arch.FPRegs) error  { return nil }

func (f *fakeArch) InstructionPointer(regs *arch.GPRegs) uint64    { return 0 }
func (f *fakeArch) SetInstructionPointer(regs *arch.GPRegs, pc uint64) {}

func (f *fakeArch) InstallBreakpoint(original uint64) uint64 {
	return (original &^ 0xFF) | 0xCC
}
func (f *fakeArch) IsSWBreakpointOpcode(word uint64) bool { return word&0xFF == 0xCC }
func (f *fakeArch) IsCallInsn(word uint64) bool           { return false }
func (f *fakeArch) IsRetInsn(b byte) bool                 { return false }

func (f *fakeArch) InstallHWBreakpoint(bp *arch.HWBreakpoint) error {
	used := f.slotsPerTid[bp.Tid]
	if used >= fakeMaxSlots {
		return errNoFreeSlot
	}
	bp.Slot = used
	bp.Enabled = true
	f.slotsPerTid[bp.Tid] = used + 1
	return nil
}

func (f *fakeArch) RemoveHWBreakpoint(bp *arch.HWBreakpoint) error {
	bp.Enabled = false
	if f.slotsPerTid[bp.Tid] > 0 {
		f.slotsPerTid[bp.Tid]--
	}
	return nil
}

func (f *fakeArch) IsHWBreakpointHit(bp *arch.HWBreakpoint) (bool, error) {
	if m, ok := f.hitSlots[bp.Tid]; ok {
		return m[bp.Slot], nil
	}
	return false, nil
}

func (f *fakeArch) markHit(tid, slot int) {
	if f.hitSlots[tid] == nil {
		f.hitSlots[tid] = make(map[int]bool)
	}
	f.hitSlots[tid][slot] = true
}

func (f *fakeArch) RemainingHWBreakpoints(tid int) (int, error) {
	return fakeMaxSlots - f.slotsPerTid[tid], nil
}

func (f *fakeArch) RemainingHWWatchpoints(tid int) (int, error) {
	return fakeMaxSlots - f.slotsPerTid[tid], nil
}

func (f *fakeArch) PeekUser(tid int, addr uintptr) (uint64, error) { return 0, nil }
func (f *fakeArch) PokeUser(tid int, addr uintptr, data uint64) error { return nil }

func (f *fakeArch) FPRegsSize(kind arch.FPKind) int { return 0 }
func (f *fakeArch) DefaultFPKind() arch.FPKind      { return arch.FPKindLegacy }

type fakeNoSlotErr struct{}

func (fakeNoSlotErr) Error() string { return "no free hardware breakpoint slot" }

var errNoFreeSlot error = fakeNoSlotErr{}
