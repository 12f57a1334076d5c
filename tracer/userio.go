package tracer

import tracererrors "tracer-go/errors"

// PeekUser and PokeUser read/write one word of per-thread debug state
// through the architecture adapter: a direct user-area offset on
// x86_64, or the internal command-bit/offset convention into a
// hardware-breakpoint/watchpoint mirror buffer on AArch64 (see
// arch/arm64.go). Per spec.md §5, the AArch64 get/modify/set trio is
// not atomic; callers must not interleave PeekUser/PokeUser calls
// against the same register bank, which the core's single-threaded
// usage already guarantees.
func (tr *Tracer) PeekUser(tid int, addr uintptr) (uint64, error) {
	v, err := tr.Arch.PeekUser(tid, addr)
	if err != nil {
		return 0, tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "PeekUser", tid)
	}
	return v, nil
}

func (tr *Tracer) PokeUser(tid int, addr uintptr, data uint64) error {
	if err := tr.Arch.PokeUser(tid, addr, data); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "PokeUser", tid)
	}
	return nil
}
