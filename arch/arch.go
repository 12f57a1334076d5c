// Package arch isolates every register-layout and debug-register detail
// that differs between supported target architectures behind the Arch
// interface. Exactly one adapter is compiled in per GOARCH via build
// constraints; Current returns it.
package arch

import (
	"fmt"
	"runtime"

	tracererrors "tracer-go/errors"
)

// WatchKind selects what access triggers a hardware breakpoint: pure
// instruction-fetch ("execute", the common breakpoint case) or a
// read/write memory access (a watchpoint).
type WatchKind int

const (
	WatchExecute WatchKind = iota
	WatchWrite
	WatchReadWrite
)

func (k WatchKind) String() string {
	switch k {
	case WatchExecute:
		return "execute"
	case WatchWrite:
		return "write"
	case WatchReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// WatchLength is the byte width of memory a watchpoint covers. On x86_64
// execute breakpoints use WatchLen1; the AArch64 adapter ignores Length
// for execute breakpoints and always covers the 4-byte instruction. The
// kernel's debug-register ABI only
// allows 1/2/4/8-byte watch ranges, and not every length is valid at
// every alignment.
type WatchLength int

const (
	WatchLen1 WatchLength = 1
	WatchLen2 WatchLength = 2
	WatchLen4 WatchLength = 4
	WatchLen8 WatchLength = 8
)

// HWBreakpoint is one programmed hardware breakpoint or watchpoint. Slot
// is adapter-private bookkeeping (the DR index on x86_64, the dbg_regs
// index on AArch64) set by InstallHWBreakpoint and consumed by
// RemoveHWBreakpoint / IsHWBreakpointHit.
type HWBreakpoint struct {
	Tid     int
	Addr    uint64
	Kind    WatchKind
	Length  WatchLength
	Enabled bool
	Slot    int
}

// FPKind identifies which of the three extended floating-point/vector
// state layouts a cached FPRegs block holds. The tracer sets it from the
// adapter's DefaultFPKind on every register refresh (FPKindLegacy on both
// adapters); the layout the kernel negotiated for the tracee is not
// detected.
type FPKind int

const (
	FPKindLegacy  FPKind = iota // x86_64 FXSAVE area, AArch64 NT_PRFPREG
	FPKindXSAVE                 // x86_64 AVX XSAVE area
	FPKindXSAVE512               // x86_64 AVX-512 XSAVE area
)

func (k FPKind) String() string {
	switch k {
	case FPKindLegacy:
		return "legacy"
	case FPKindXSAVE:
		return "xsave"
	case FPKindXSAVE512:
		return "xsave-avx512"
	default:
		return "unknown"
	}
}

// FPRegs is the cached extended floating-point/vector state block for one
// thread. Data is sized per Kind (see FPRegsSize) and is otherwise opaque
// to every package above arch: it is read with GetFPR, held untouched on
// the thread table entry, and written back verbatim with SetFPR.
type FPRegs struct {
	Kind FPKind
	Data []byte
}

// GPRegs is declared per architecture (gpregs_amd64.go, gpregs_arm64.go)
// because the general-purpose register layout is not expressible as one
// shared struct across the kernel ABIs this core supports.

// Arch is the full set of architecture-specific operations the tracer
// core needs. Every method takes the kernel tid it operates on; none
// retain state beyond what the kernel itself holds for that thread.
type Arch interface {
	Name() string

	GetGPR(tid int, out *GPRegs) error
	SetGPR(tid int, in *GPRegs) error
	GetFPR(tid int, out *FPRegs) error
	SetFPR(tid int, in *FPRegs) error

	InstructionPointer(regs *GPRegs) uint64
	SetInstructionPointer(regs *GPRegs, pc uint64)

	// InstallBreakpoint returns word with the architecture's trap opcode
	// overlaid at its low-address byte(s); original must be the word
	// last read from that address so unrelated bytes are preserved.
	InstallBreakpoint(original uint64) uint64
	// IsSWBreakpointOpcode reports whether a word read back from memory
	// starts with the architecture's trap opcode (its low byte on x86_64,
	// its low 32-bit instruction on AArch64).
	IsSWBreakpointOpcode(word uint64) bool

	// IsCallInsn / IsRetInsn classify the instruction encoded by the
	// bytes starting at the current instruction pointer;
	// used by the nested-call counter in the step-out algorithm.
	IsCallInsn(word uint64) bool
	IsRetInsn(opcodeByte byte) bool

	// InstallHWBreakpoint programs an unused debug-register slot for
	// bp.Tid and fills in bp.Slot. Returns ErrNoFreeHWSlot if every slot
	// for bp.Kind is already in use.
	InstallHWBreakpoint(bp *HWBreakpoint) error
	RemoveHWBreakpoint(bp *HWBreakpoint) error
	// IsHWBreakpointHit reports whether bp's slot is the one that
	// triggered the thread's most recent debug trap.
	IsHWBreakpointHit(bp *HWBreakpoint) (bool, error)

	RemainingHWBreakpoints(tid int) (int, error)
	RemainingHWWatchpoints(tid int) (int, error)

	// PeekUser and PokeUser read/write one word of per-thread debug
	// state. On x86_64 addr is a direct user-area offset; on AArch64,
	// which has no user-area, addr is an internal convention (see
	// arm64.go) rather than a real kernel address.
	PeekUser(tid int, addr uintptr) (uint64, error)
	PokeUser(tid int, addr uintptr, data uint64) error

	FPRegsSize(kind FPKind) int
	DefaultFPKind() FPKind
}

var registry = map[string]Arch{}

// register is called from each architecture adapter's init().
func register(goarch string, a Arch) {
	registry[goarch] = a
}

// Current returns the Arch adapter for the running GOARCH.
func Current() (Arch, error) {
	a, ok := registry[runtime.GOARCH]
	if !ok {
		return nil, tracererrors.WrapWithDetail(
			fmt.Errorf("GOARCH=%s", runtime.GOARCH),
			tracererrors.ErrUnsupportedArch,
			"arch.Current",
			"no architecture adapter registered for this GOARCH",
		)
	}
	return a, nil
}

// MustCurrent is Current without the error return, for callers (tests,
// cmd wiring) that treat an unsupported architecture as fatal.
func MustCurrent() Arch {
	a, err := Current()
	if err != nil {
		panic(err)
	}
	return a
}
