// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Thread table errors.
var (
	// ErrThreadNotFound indicates the tid is not registered as live.
	ErrThreadNotFound = &TracerError{
		Kind:   ErrNotFound,
		Detail: "thread not found",
	}
)

// Software breakpoint errors.
var (
	// ErrBreakpointExists indicates a software breakpoint is already
	// registered at the address.
	ErrBreakpointExists = &TracerError{
		Kind:   ErrInvariant,
		Detail: "software breakpoint already registered at address",
	}

	// ErrBreakpointNotFound indicates no software breakpoint is
	// registered at the address.
	ErrBreakpointNotFound = &TracerError{
		Kind:   ErrNotFound,
		Detail: "software breakpoint not found",
	}
)

// Hardware breakpoint errors.
var (
	// ErrHWBreakpointExists indicates the (addr, tid) pair is already
	// registered.
	ErrHWBreakpointExists = &TracerError{
		Kind:   ErrInvariant,
		Detail: "hardware breakpoint already registered for thread",
	}

	// ErrHWBreakpointNotFound indicates no hardware breakpoint is
	// registered for the (addr, tid) pair.
	ErrHWBreakpointNotFound = &TracerError{
		Kind:   ErrNotFound,
		Detail: "hardware breakpoint not found",
	}

	// ErrNoFreeHWSlot indicates every debug register slot for the
	// thread is already programmed.
	ErrNoFreeHWSlot = &TracerError{
		Kind:   ErrResourceExhausted,
		Detail: "no free hardware breakpoint slot",
	}
)

// Kernel interaction errors.
var (
	// ErrKernelCallFailed is a generic wrapper for a failed ptrace,
	// wait, or signal-delivery syscall.
	ErrKernelCallFailed = &TracerError{
		Kind:   ErrKernelCall,
		Detail: "kernel call failed",
	}

	// ErrNoArchAdapter indicates the running GOARCH has no
	// architecture adapter registered.
	ErrNoArchAdapter = &TracerError{
		Kind:   ErrUnsupportedArch,
		Detail: "no architecture adapter for GOARCH",
	}
)

// Tracee lifecycle errors.
var (
	// ErrTraceeExited indicates an operation was attempted against a
	// tracee that has already exited.
	ErrTraceeExited = &TracerError{
		Kind:   ErrInvalidState,
		Detail: "tracee has exited",
	}

	// ErrNotAttached indicates an operation was attempted before the
	// first stop was observed.
	ErrNotAttached = &TracerError{
		Kind:   ErrInvalidState,
		Detail: "tracee is not attached",
	}
)
