//go:build linux && arm64

package arch

import (
	"encoding/binary"
	"syscall"
	"unsafe"

	tracererrors "tracer-go/errors"
)

func init() {
	register("arm64", &arm64Arch{})
}

// arm64Arch implements Arch for AArch64. There is no user-area and no
// PTRACE_GETREGS/PEEKUSER on this architecture; every register file is
// reached through PTRACE_GETREGSET/SETREGSET against a named note type,
// with an iovec describing the buffer and its length.
type arm64Arch struct{}

func (arm64Arch) Name() string { return "arm64" }

const (
	ptraceGetRegSetARM = 0x4204
	ptraceSetRegSetARM = 0x4205

	ntPRStatus      = 1
	ntPRFPReg       = 2
	ntArmHWBreak    = 0x402
	ntArmHWWatch    = 0x403
	ntArmSystemCall = 0x404
)

type iovecARM struct {
	base uintptr
	len  uint64
}

func regSet(tid int, request uintptr, note uintptr, buf []byte) (int, error) {
	iov := iovecARM{base: uintptr(unsafe.Pointer(&buf[0])), len: uint64(len(buf))}
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, request, uintptr(tid), note, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(iov.len), nil
}

// userPtRegsSize is sizeof(struct user_pt_regs): 31 Xn + sp + pc + pstate,
// each 8 bytes.
const userPtRegsSize = 34 * 8

func (arm64Arch) GetGPR(tid int, out *GPRegs) error {
	buf := make([]byte, userPtRegsSize)
	n, err := regSet(tid, ptraceGetRegSetARM, ntPRStatus, buf)
	if err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "GetGPR", tid)
	}
	if n < userPtRegsSize {
		return tracererrors.WrapWithDetail(syscall.EIO, tracererrors.ErrKernelCall, "GetGPR", "short regset read")
	}
	for i := 0; i < 31; i++ {
		out.Regs[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	out.Sp = binary.LittleEndian.Uint64(buf[31*8:])
	out.Pc = binary.LittleEndian.Uint64(buf[32*8:])
	out.Pstate = binary.LittleEndian.Uint64(buf[33*8:])
	return nil
}

func (arm64Arch) SetGPR(tid int, in *GPRegs) error {
	buf := make([]byte, userPtRegsSize)
	for i := 0; i < 31; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], in.Regs[i])
	}
	binary.LittleEndian.PutUint64(buf[31*8:], in.Sp)
	binary.LittleEndian.PutUint64(buf[32*8:], in.Pc)
	binary.LittleEndian.PutUint64(buf[33*8:], in.Pstate)

	if _, err := regSet(tid, ptraceSetRegSetARM, ntPRStatus, buf); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SetGPR", tid)
	}

	if in.OverrideSyscallNumber {
		// x8 holds the syscall number; on a syscall-entry stop the
		// kernel only accepts a rewritten number through the dedicated
		// NT_ARM_SYSTEM_CALL regset, not through the general-purpose one.
		var sysno [4]byte
		binary.LittleEndian.PutUint32(sysno[:], uint32(in.Regs[8]))
		if _, err := regSet(tid, ptraceSetRegSetARM, ntArmSystemCall, sysno[:]); err != nil {
			return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SetGPR", tid)
		}
		in.OverrideSyscallNumber = false
	}
	return nil
}

func (arm64Arch) InstructionPointer(regs *GPRegs) uint64 {
	return regs.Pc
}

func (arm64Arch) SetInstructionPointer(regs *GPRegs, pc uint64) {
	regs.Pc = pc
}

// brk #0 is a 4-byte, fixed-width trap on AArch64; there is no single
// opcode byte overlay the way x86_64 has with INT3.
const trapInsnARM64 uint32 = 0xD4200000

func (arm64Arch) InstallBreakpoint(original uint64) uint64 {
	return (original &^ 0xFFFFFFFF) | uint64(trapInsnARM64)
}

func (arm64Arch) IsSWBreakpointOpcode(word uint64) bool {
	return uint32(word) == trapInsnARM64
}

// BL (branch with link) encodes a call: bits [31:26] == 100101.
func (arm64Arch) IsCallInsn(word uint64) bool {
	insn := uint32(word)
	return insn&0xFC000000 == 0x94000000
}

// RET encodes as 0xD65F0000 | (Rn << 5); the common compiler-generated
// form is RET X30 (0xD65F03C0). IsRetInsn only ever receives the low
// byte of the 4-byte instruction word from the stepping algorithm, which
// is enough to recognize the common X30 return.
func (arm64Arch) IsRetInsn(opcodeByte byte) bool {
	return opcodeByte == 0xC0
}

// user_hwdebug_state: __u32 dbg_info; __u32 pad; then up to 16 slots of
// {__u64 addr; __u32 ctrl; __u32 pad;}.
const (
	hwDebugHeaderSize = 8
	hwDebugSlotSize   = 16
	hwDebugMaxSlots   = 16
)

func hwDebugStateSize(slots int) int {
	return hwDebugHeaderSize + slots*hwDebugSlotSize
}

func readHWState(tid int, note uintptr) (info uint32, slots []struct {
	addr uint64
	ctrl uint32
}, err error) {
	buf := make([]byte, hwDebugStateSize(hwDebugMaxSlots))
	n, rerr := regSet(tid, ptraceGetRegSetARM, note, buf)
	if rerr != nil {
		return 0, nil, rerr
	}
	info = binary.LittleEndian.Uint32(buf[0:4])
	count := (n - hwDebugHeaderSize) / hwDebugSlotSize
	out := make([]struct {
		addr uint64
		ctrl uint32
	}, count)
	for i := 0; i < count; i++ {
		off := hwDebugHeaderSize + i*hwDebugSlotSize
		out[i].addr = binary.LittleEndian.Uint64(buf[off:])
		out[i].ctrl = binary.LittleEndian.Uint32(buf[off+8:])
	}
	return info, out, nil
}

func writeHWState(tid int, note uintptr, slots []struct {
	addr uint64
	ctrl uint32
}) error {
	buf := make([]byte, hwDebugStateSize(len(slots)))
	for i, s := range slots {
		off := hwDebugHeaderSize + i*hwDebugSlotSize
		binary.LittleEndian.PutUint64(buf[off:], s.addr)
		binary.LittleEndian.PutUint32(buf[off+8:], s.ctrl)
	}
	_, err := regSet(tid, ptraceSetRegSetARM, note, buf)
	return err
}

// controlWord builds the DBGBCR/DBGWCR control value: bits [12:5] byte
// address select (the length mask), [4:3] access condition, [2:1]
// privilege level (2 == EL0, user-only), [0] enable.
func controlWord(lengthMask uint32, condition uint32) uint32 {
	return (lengthMask << 5) | (condition << 3) | (2 << 1) | 1
}

func lengthMaskARM(length WatchLength, addr uint64) uint32 {
	// BAS is an 8-bit byte mask relative to the containing doubleword;
	// for a naturally aligned access the mask is a contiguous run
	// starting at addr%8.
	start := addr % 8
	n := uint32(length)
	mask := uint32(0)
	for i := uint32(0); i < n; i++ {
		mask |= 1 << (uint32(start) + i)
	}
	return mask
}

func conditionARM(kind WatchKind) uint32 {
	switch kind {
	case WatchWrite:
		return 0b10
	case WatchReadWrite:
		return 0b11
	default:
		return 0b01 // load/read, unused for execute breakpoints
	}
}

func noteForKind(kind WatchKind) uintptr {
	if kind == WatchExecute {
		return ntArmHWBreak
	}
	return ntArmHWWatch
}

func (arm64Arch) InstallHWBreakpoint(bp *HWBreakpoint) error {
	note := noteForKind(bp.Kind)
	_, slots, err := readHWState(bp.Tid, note)
	if err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "InstallHWBreakpoint", bp.Tid)
	}

	free := -1
	for i, s := range slots {
		if s.ctrl&1 == 0 {
			free = i
			break
		}
	}
	if free == -1 {
		return tracererrors.ErrNoFreeHWSlot
	}

	var ctrl uint32
	if bp.Kind == WatchExecute {
		ctrl = controlWord(0b1111, 0b00)
	} else {
		ctrl = controlWord(lengthMaskARM(bp.Length, bp.Addr), conditionARM(bp.Kind))
	}
	slots[free].addr = bp.Addr
	slots[free].ctrl = ctrl

	if err := writeHWState(bp.Tid, note, slots); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "InstallHWBreakpoint", bp.Tid)
	}
	bp.Slot = free
	bp.Enabled = true
	return nil
}

func (arm64Arch) RemoveHWBreakpoint(bp *HWBreakpoint) error {
	note := noteForKind(bp.Kind)
	_, slots, err := readHWState(bp.Tid, note)
	if err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "RemoveHWBreakpoint", bp.Tid)
	}
	if bp.Slot < 0 || bp.Slot >= len(slots) {
		return tracererrors.ErrHWBreakpointNotFound
	}
	slots[bp.Slot].ctrl &^= 1
	slots[bp.Slot].addr = 0
	if err := writeHWState(bp.Tid, note, slots); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "RemoveHWBreakpoint", bp.Tid)
	}
	bp.Enabled = false
	return nil
}

// ptraceGetSigInfo (PTRACE_GETSIGINFO) and the kernel siginfo_t layout
// are arch-independent on Linux: si_signo/si_errno/si_code are int32
// fields at offsets 0/4/8, and the _sigfault union's si_addr is the
// first field of the union, at offset 16, on every architecture Go
// supports here. traceHWBkpt is TRAP_HWBKPT from asm-generic/siginfo.h.
const (
	ptraceGetSigInfo = 0x4202
	traceHWBkpt      = 4
	siginfoSize      = 128
	siginfoCodeOff   = 8
	siginfoAddrOff   = 16
)

func getSigInfo(tid int) (code int32, addr uint64, err error) {
	buf := make([]byte, siginfoSize)
	if _, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, ptraceGetSigInfo, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0); errno != 0 {
		return 0, 0, errno
	}
	code = int32(binary.LittleEndian.Uint32(buf[siginfoCodeOff:]))
	addr = binary.LittleEndian.Uint64(buf[siginfoAddrOff:])
	return code, addr, nil
}

// IsHWBreakpointHit reports a hit only when the slot is still armed AND
// the thread's last signal info is a trap with TRAP_HWBKPT code and a
// fault address matching bp.Addr — a thread can be stopped for an
// unrelated reason (a syscall stop, a different signal, a software
// breakpoint) while every one of its hardware breakpoints remains
// programmed and enabled, and the slot state alone can't distinguish
// that from an actual hit.
func (a arm64Arch) IsHWBreakpointHit(bp *HWBreakpoint) (bool, error) {
	note := noteForKind(bp.Kind)
	_, slots, err := readHWState(bp.Tid, note)
	if err != nil {
		return false, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "IsHWBreakpointHit", bp.Tid)
	}
	if bp.Slot < 0 || bp.Slot >= len(slots) || slots[bp.Slot].ctrl&1 == 0 {
		return false, nil
	}

	code, addr, err := getSigInfo(bp.Tid)
	if err != nil {
		return false, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "IsHWBreakpointHit", bp.Tid)
	}
	return code == traceHWBkpt && addr == bp.Addr, nil
}

func (arm64Arch) RemainingHWBreakpoints(tid int) (int, error) {
	_, slots, err := readHWState(tid, ntArmHWBreak)
	if err != nil {
		return 0, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "RemainingHWBreakpoints", tid)
	}
	free := 0
	for _, s := range slots {
		if s.ctrl&1 == 0 {
			free++
		}
	}
	return free, nil
}

// RemainingHWWatchpoints is counted against NT_ARM_HW_WATCH's own
// register file, which AArch64 keeps entirely separate from the
// breakpoint slots (unlike x86_64, which multiplexes both uses onto the
// same four DR registers).
func (arm64Arch) RemainingHWWatchpoints(tid int) (int, error) {
	_, slots, err := readHWState(tid, ntArmHWWatch)
	if err != nil {
		return 0, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "RemainingHWWatchpoints", tid)
	}
	free := 0
	for _, s := range slots {
		if s.ctrl&1 == 0 {
			free++
		}
	}
	return free, nil
}

// userAddrCommandBit is the internal convention PeekUser/PokeUser use to
// stand in for the nonexistent AArch64 user-area: bit 0x1000 of addr
// selects which mirror buffer (hardware-watchpoint or
// hardware-breakpoint register set) the remaining bits are a byte
// offset into. It must not collide with any real offset in either
// mirror, both of which are far smaller than 0x1000 bytes
// (hwDebugStateSize(16) == 264).
const userAddrCommandBit = 0x1000

func userAddrNote(addr uintptr) uintptr {
	if addr&userAddrCommandBit != 0 {
		return ntArmHWWatch
	}
	return ntArmHWBreak
}

func userAddrOffset(addr uintptr) int {
	return int(addr &^ userAddrCommandBit)
}

// PeekUser and PokeUser give the tracer-facing caller a single-word
// view over the mirror buffer fetched/stored as a whole via
// PTRACE_GETREGSET/SETREGSET: the get/modify/set trio is not atomic, so
// callers must not interleave multiple calls against the same register
// bank (the core's single-threaded invariant already guarantees this).
func (arm64Arch) PeekUser(tid int, addr uintptr) (uint64, error) {
	note := userAddrNote(addr)
	off := userAddrOffset(addr)
	buf := make([]byte, hwDebugStateSize(hwDebugMaxSlots))
	if _, err := regSet(tid, ptraceGetRegSetARM, note, buf); err != nil {
		return 0, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "PeekUser", tid)
	}
	if off < 0 || off+8 > len(buf) {
		return 0, tracererrors.WrapWithDetail(syscall.EINVAL, tracererrors.ErrInvariant, "PeekUser", "offset out of range")
	}
	return binary.LittleEndian.Uint64(buf[off:]), nil
}

func (arm64Arch) PokeUser(tid int, addr uintptr, data uint64) error {
	note := userAddrNote(addr)
	off := userAddrOffset(addr)
	buf := make([]byte, hwDebugStateSize(hwDebugMaxSlots))
	if _, err := regSet(tid, ptraceGetRegSetARM, note, buf); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "PokeUser", tid)
	}
	if off < 0 || off+8 > len(buf) {
		return tracererrors.WrapWithDetail(syscall.EINVAL, tracererrors.ErrInvariant, "PokeUser", "offset out of range")
	}
	binary.LittleEndian.PutUint64(buf[off:], data)
	if _, err := regSet(tid, ptraceSetRegSetARM, note, buf); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "PokeUser", tid)
	}
	return nil
}

const (
	fpsimdStateSize = 32*16 + 8 // 32 V registers (128-bit) + fpsr + fpcr
)

func (arm64Arch) FPRegsSize(kind FPKind) int {
	return fpsimdStateSize
}

func (arm64Arch) DefaultFPKind() FPKind { return FPKindLegacy }

func (arm64Arch) GetFPR(tid int, out *FPRegs) error {
	buf := make([]byte, fpsimdStateSize)
	n, err := regSet(tid, ptraceGetRegSetARM, ntPRFPReg, buf)
	if err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "GetFPR", tid)
	}
	out.Kind = FPKindLegacy
	out.Data = buf[:n]
	return nil
}

func (arm64Arch) SetFPR(tid int, in *FPRegs) error {
	if _, err := regSet(tid, ptraceSetRegSetARM, ntPRFPReg, in.Data); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SetFPR", tid)
	}
	return nil
}
