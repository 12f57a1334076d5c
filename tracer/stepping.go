package tracer

import (
	"syscall"

	tracererrors "tracer-go/errors"
	"tracer-go/ptrace"
)

// SingleStep flushes every live thread's registers, then resumes tid for
// exactly one instruction — forwarding and clearing tid's pending
// signal, exactly as ContAllAndSetBPs does for a full continue — and
// waits for the resulting trap, refreshing its register cache. On
// AArch64, if tid is currently stopped on an enabled hardware
// breakpoint, the breakpoint is removed, the step taken, and the
// breakpoint reinstalled, so the step itself cannot re-trap on it.
func (tr *Tracer) SingleStep(tid int) error {
	entry, ok := tr.Threads.GetThread(tid)
	if !ok {
		return tracererrors.ErrThreadNotFound
	}
	tr.flushAll()

	sig := syscall.Signal(entry.SignalToForward)
	entry.SignalToForward = 0

	hwHit, hasHW, _ := tr.HW.GetHitHWBreakpoint(tr.Arch, tid)
	if hasHW && tr.Arch.Name() == "arm64" {
		if err := tr.Arch.RemoveHWBreakpoint(hwHit); err != nil {
			return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SingleStep", tid)
		}
		defer tr.Arch.InstallHWBreakpoint(hwHit)
	}

	if err := ptrace.SingleStepSig(tid, sig); err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SingleStep", tid)
	}
	st, err := ptrace.Wait4(tid)
	if err != nil {
		return tracererrors.WrapWithTid(err, tracererrors.ErrKernelCall, "SingleStep", tid)
	}
	return tr.handleStop(st)
}

// StepUntil single-steps tid until its instruction pointer reaches
// target, the thread exits, or maxSteps steps have been taken (maxSteps
// == -1 means unbounded). A step whose instruction pointer does not
// change is assumed to have been absorbed by a hardware breakpoint
// firing before the instruction advanced, and is retried without
// counting against maxSteps.
func (tr *Tracer) StepUntil(tid int, target uint64, maxSteps int) error {
	taken := 0
	for {
		entry, ok := tr.Threads.GetThread(tid)
		if !ok {
			return tracererrors.ErrTraceeExited
		}
		if tr.Arch.InstructionPointer(&entry.GPR) == target {
			return nil
		}
		if maxSteps >= 0 && taken >= maxSteps {
			return nil
		}

		before := tr.Arch.InstructionPointer(&entry.GPR)
		if err := tr.SingleStep(tid); err != nil {
			return err
		}
		entry, ok = tr.Threads.GetThread(tid)
		if !ok {
			return tracererrors.ErrTraceeExited
		}
		after := tr.Arch.InstructionPointer(&entry.GPR)
		if after == before {
			continue // absorbed by something else; does not count as a step
		}
		taken++
	}
}

// SteppingFinish calls PrepareForRun so every enabled breakpoint's trap
// opcode is actually present in memory, then single-steps tid until
// control returns out of the function active when the call began (a
// "step out" or "finish"). It seeds a nesting counter at 1 (the frame
// being finished) and, after
// each single-step, inspects the instruction now at the new instruction
// pointer: a CALL increments the counter, a RET decrements it, and
// reaching 0 means the original frame has returned. One further
// single-step then lands tid on the instruction after the call. If a
// step doesn't move the instruction pointer, or lands on another
// breakpoint's trap opcode, the loop aborts without finishing — a
// breakpoint got in the way and the caller must resolve it. Either way,
// the cleanup step restores every enabled software breakpoint's
// original bytes, matching the code-clean state WaitAllAndUpdateRegs
// leaves after a stop.
func (tr *Tracer) SteppingFinish(tid int) error {
	if err := tr.PrepareForRun(); err != nil {
		return err
	}

	depth := 1
	for {
		entry, ok := tr.Threads.GetThread(tid)
		if !ok {
			return tracererrors.ErrTraceeExited
		}
		before := tr.Arch.InstructionPointer(&entry.GPR)

		if err := tr.SingleStep(tid); err != nil {
			return err
		}

		entry, ok = tr.Threads.GetThread(tid)
		if !ok {
			return tracererrors.ErrTraceeExited
		}
		after := tr.Arch.InstructionPointer(&entry.GPR)

		word, err := ptrace.PeekData(tid, uintptr(after))
		if err != nil {
			return tracererrors.WrapWithAddr(err, tracererrors.ErrKernelCall, "SteppingFinish", after)
		}
		lowByte := byte(word & 0xFF)

		if after == before || tr.Arch.IsSWBreakpointOpcode(word) {
			break
		}

		switch {
		case tr.Arch.IsCallInsn(word):
			depth++
		case tr.Arch.IsRetInsn(lowByte):
			depth--
			if depth == 0 {
				if err := tr.SingleStep(tid); err != nil {
					return err
				}
				goto cleanup
			}
		}
	}

cleanup:
	if err := tr.restoreOriginalCode(); err != nil {
		return err
	}
	return nil
}
