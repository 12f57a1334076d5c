// Package breakpoint holds the address-keyed software breakpoint table
// and the per-thread hardware breakpoint/watchpoint table. Both are pure
// bookkeeping over an arch.Arch adapter: this package keeps the entries,
// the adapter chooses a hardware slot and programs it.
package breakpoint

import (
	"sort"
	"sync"

	"tracer-go/arch"
	tracererrors "tracer-go/errors"
)

// Software is one patched instruction: the in-memory word as it was
// before patching (Original) and as it reads now that the trap opcode is
// installed (Patched). Unregistering a breakpoint does not write
// Original back to the tracee's memory: UnregisterBreakpoint hands the
// entry back, and neither this package nor the tracer package restores
// it.
type Software struct {
	Addr     uint64
	Original uint64
	Patched  uint64
	Enabled  bool
}

// SoftwareTable is the address-sorted set of software breakpoints
// currently known to the tracer, independent of any one thread (a
// software breakpoint is visible to every thread that executes the
// patched address).
type SoftwareTable struct {
	mu      sync.RWMutex
	entries []*Software // kept sorted by Addr
}

// NewSoftwareTable returns an empty software breakpoint table.
func NewSoftwareTable() *SoftwareTable {
	return &SoftwareTable{}
}

func (t *SoftwareTable) find(addr uint64) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Addr >= addr
	})
	if i < len(t.entries) && t.entries[i].Addr == addr {
		return i, true
	}
	return i, false
}

// RegisterBreakpoint computes the patched word for original via the
// current architecture adapter and inserts a new, enabled entry at addr.
// If addr already has an entry — including one a caller previously
// Disabled — it is set Enabled and returned as-is rather than replaced,
// matching the original's register_breakpoint (re-registering a known
// address re-arms it instead of erroring).
func (t *SoftwareTable) RegisterBreakpoint(a arch.Arch, addr, original uint64) (*Software, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := t.find(addr)
	if found {
		t.entries[i].Enabled = true
		return t.entries[i], nil
	}

	sw := &Software{
		Addr:     addr,
		Original: original,
		Patched:  a.InstallBreakpoint(original),
		Enabled:  true,
	}
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = sw
	return sw, nil
}

// UnregisterBreakpoint removes and returns the entry at addr so the
// caller can restore Original to tracee memory. Unregistering an address
// the spec itself leaves under-specified about memory restoration: this
// core always hands the caller the Original word and lets the caller
// decide whether to write it back (see DESIGN.md on unregister_breakpoint).
func (t *SoftwareTable) UnregisterBreakpoint(addr uint64) (*Software, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := t.find(addr)
	if !found {
		return nil, tracererrors.ErrBreakpointNotFound
	}
	sw := t.entries[i]
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return sw, nil
}

// Get returns the entry at addr without removing it.
func (t *SoftwareTable) Get(addr uint64) (*Software, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, found := t.find(addr)
	if !found {
		return nil, false
	}
	return t.entries[i], true
}

// Enable and Disable flip the logical enabled flag without touching
// tracee memory; cont_all_and_set_bps consults Enabled to decide whether
// to (re)install the trap opcode for this address on the next run.
func (t *SoftwareTable) Enable(addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := t.find(addr)
	if !found {
		return tracererrors.ErrBreakpointNotFound
	}
	t.entries[i].Enabled = true
	return nil
}

func (t *SoftwareTable) Disable(addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := t.find(addr)
	if !found {
		return tracererrors.ErrBreakpointNotFound
	}
	t.entries[i].Enabled = false
	return nil
}

// All returns every registered software breakpoint, in ascending address
// order.
func (t *SoftwareTable) All() []*Software {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Software, len(t.entries))
	copy(out, t.entries)
	return out
}
