// Package thread maintains the tracer's per-thread register cache: which
// tids are currently live, their most recently read general-purpose and
// floating-point register snapshots, and a short list of tids that have
// exited but whose last-known state a caller may still want to inspect.
package thread

import (
	"sync"

	"tracer-go/arch"
)

// Lifecycle marks whether a thread table entry still corresponds to a
// running kernel thread.
type Lifecycle int

const (
	Live Lifecycle = iota
	Dead
)

func (l Lifecycle) String() string {
	if l == Dead {
		return "dead"
	}
	return "live"
}

// Entry is one thread's cached state. GPR and FPR are only as fresh as
// the last register refresh for this tid (a wait, a single-step, or a
// step off a breakpoint); they are not re-read from the kernel on every
// access.
type Entry struct {
	Tid             int
	Lifecycle       Lifecycle
	GPR             arch.GPRegs
	FPR             arch.FPRegs
	SignalToForward int
}

// Table is the tracer's live thread-group membership and per-thread
// register cache. A Table is safe for concurrent use; WaitAllAndUpdateRegs
// and the stepping algorithms all touch it from whatever goroutine is
// driving the tracee.
type Table struct {
	mu   sync.RWMutex
	live map[int]*Entry
	dead []*Entry
}

// NewTable returns an empty thread table.
func NewTable() *Table {
	return &Table{live: make(map[int]*Entry)}
}

// RegisterThread adds tid as live, or returns its existing entry
// unchanged if it is already registered. Registration is the only place
// a new Entry is allocated; every subsequent lookup returns the same
// pointer, so updating GPR/FPR in place is visible to every holder.
func (t *Table) RegisterThread(tid int) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.live[tid]; ok {
		return e
	}
	e := &Entry{Tid: tid, Lifecycle: Live}
	t.live[tid] = e
	return e
}

// UnregisterThread moves tid from the live set to the dead list,
// preserving its last-known register snapshot. Unregistering a tid that
// is not live is a no-op, so callers racing an exit notification against
// a detach do not need to guard the call themselves.
func (t *Table) UnregisterThread(tid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.live[tid]
	if !ok {
		return
	}
	delete(t.live, tid)
	e.Lifecycle = Dead
	t.dead = append(t.dead, e)
}

// GetThread returns the live entry for tid, or nil, false if tid is not
// currently registered as live.
func (t *Table) GetThread(tid int) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.live[tid]
	return e, ok
}

// GetThreadFPRegs returns the cached floating-point register block for a
// live thread. It exists separately from GetThread because callers that
// only need FP state (e.g. a register-dump command) should not have to
// know about the rest of Entry's layout.
func (t *Table) GetThreadFPRegs(tid int) (*arch.FPRegs, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.live[tid]
	if !ok {
		return nil, false
	}
	return &e.FPR, true
}

// LiveTids returns the tids currently registered as live, in no
// particular order.
func (t *Table) LiveTids() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tids := make([]int, 0, len(t.live))
	for tid := range t.live {
		tids = append(tids, tid)
	}
	return tids
}

// FreeThreadList drains and returns every entry moved to the dead list
// since the last call. Entries are only ever appended by UnregisterThread
// and only ever removed here, so a caller that never calls FreeThreadList
// keeps a full history of every thread that has exited.
func (t *Table) FreeThreadList() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := t.dead
	t.dead = nil
	return drained
}

// Len reports the number of live threads.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}
