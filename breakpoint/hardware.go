package breakpoint

import (
	"sync"

	"tracer-go/arch"
	tracererrors "tracer-go/errors"
)

// HardwareTable is the per-thread set of programmed hardware breakpoints
// and watchpoints. Unlike software breakpoints, these are inherently
// per-thread: the debug registers live in each thread's register file,
// not in the shared address space.
type HardwareTable struct {
	mu    sync.RWMutex
	byTid map[int][]*arch.HWBreakpoint
}

// NewHardwareTable returns an empty hardware breakpoint table.
func NewHardwareTable() *HardwareTable {
	return &HardwareTable{byTid: make(map[int][]*arch.HWBreakpoint)}
}

func (t *HardwareTable) findLocked(tid int, addr uint64) (*arch.HWBreakpoint, int) {
	for i, bp := range t.byTid[tid] {
		if bp.Addr == addr {
			return bp, i
		}
	}
	return nil, -1
}

// RegisterHWBreakpoint programs a new hardware breakpoint or watchpoint
// on tid via a, and tracks it for later removal or hit-testing. It
// returns ErrHWBreakpointExists if tid already has an entry at addr, or
// whatever the adapter reports (typically ErrNoFreeHWSlot) if every debug
// register slot for tid is already in use.
func (t *HardwareTable) RegisterHWBreakpoint(a arch.Arch, tid int, addr uint64, kind arch.WatchKind, length arch.WatchLength) (*arch.HWBreakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, idx := t.findLocked(tid, addr); idx != -1 {
		return nil, tracererrors.ErrHWBreakpointExists
	}

	bp := &arch.HWBreakpoint{Tid: tid, Addr: addr, Kind: kind, Length: length}
	if err := a.InstallHWBreakpoint(bp); err != nil {
		return nil, err
	}
	t.byTid[tid] = append(t.byTid[tid], bp)
	return bp, nil
}

// UnregisterHWBreakpoint removes the hardware breakpoint at (tid, addr),
// asking the adapter to clear its debug register slot first.
func (t *HardwareTable) UnregisterHWBreakpoint(a arch.Arch, tid int, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bp, idx := t.findLocked(tid, addr)
	if idx == -1 {
		return tracererrors.ErrHWBreakpointNotFound
	}
	if err := a.RemoveHWBreakpoint(bp); err != nil {
		return err
	}
	entries := t.byTid[tid]
	t.byTid[tid] = append(entries[:idx], entries[idx+1:]...)
	if len(t.byTid[tid]) == 0 {
		delete(t.byTid, tid)
	}
	return nil
}

// EnableHW and DisableHW reinstall or remove the debug register slot
// without discarding the bookkeeping entry, so a disabled breakpoint can
// be re-enabled at the same address without losing its Kind/Length.
func (t *HardwareTable) EnableHW(a arch.Arch, tid int, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, idx := t.findLocked(tid, addr)
	if idx == -1 {
		return tracererrors.ErrHWBreakpointNotFound
	}
	if bp.Enabled {
		return nil
	}
	return a.InstallHWBreakpoint(bp)
}

func (t *HardwareTable) DisableHW(a arch.Arch, tid int, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, idx := t.findLocked(tid, addr)
	if idx == -1 {
		return tracererrors.ErrHWBreakpointNotFound
	}
	if !bp.Enabled {
		return nil
	}
	return a.RemoveHWBreakpoint(bp)
}

// GetHitHWBreakpoint returns the first hardware breakpoint registered on
// tid that the adapter reports as hit, or nil, false if none match. The
// stepping algorithms call this right after a SIGTRAP stop to decide
// whether the trap came from a hardware slot rather than a software
// breakpoint or a single-step completion.
func (t *HardwareTable) GetHitHWBreakpoint(a arch.Arch, tid int) (*arch.HWBreakpoint, bool, error) {
	t.mu.RLock()
	entries := append([]*arch.HWBreakpoint(nil), t.byTid[tid]...)
	t.mu.RUnlock()

	for _, bp := range entries {
		hit, err := a.IsHWBreakpointHit(bp)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return bp, true, nil
		}
	}
	return nil, false, nil
}

// RemainingHWBreakpoints reports how many additional execute breakpoints
// tid can accept, by asking the adapter directly; it does not infer
// capacity from this table's own bookkeeping, since the kernel's register
// file is the authority.
func (t *HardwareTable) RemainingHWBreakpoints(a arch.Arch, tid int) (int, error) {
	return a.RemainingHWBreakpoints(tid)
}

// RemainingHWWatchpoints mirrors RemainingHWBreakpoints for watchpoints.
// On x86_64 this reports the same count as RemainingHWBreakpoints
// because both kinds share the same four debug registers; on AArch64 it
// is a genuinely separate slot pool. See arch.Arch.RemainingHWWatchpoints.
func (t *HardwareTable) RemainingHWWatchpoints(a arch.Arch, tid int) (int, error) {
	return a.RemainingHWWatchpoints(tid)
}

// All returns every hardware breakpoint registered for tid.
func (t *HardwareTable) All(tid int) []*arch.HWBreakpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*arch.HWBreakpoint, len(t.byTid[tid]))
	copy(out, t.byTid[tid])
	return out
}
