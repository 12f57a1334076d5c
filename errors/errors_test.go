package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{ErrKernelCall, "kernel call failed"},
		{ErrResourceExhausted, "resource exhausted"},
		{ErrInvariant, "invariant violation"},
		{ErrNotFound, "not found"},
		{ErrInvalidState, "invalid state"},
		{ErrUnsupportedArch, "unsupported architecture"},
		{ErrorKind(999), "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("ErrorKind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTracerError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TracerError
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "<nil>",
		},
		{
			name: "full error",
			err: &TracerError{
				Op:     "register_breakpoint",
				Tid:    42,
				Kind:   ErrNotFound,
				Detail: "address not mapped",
				Err:    fmt.Errorf("no such process"),
			},
			expected: "register_breakpoint: tid 42: address not mapped: no such process",
		},
		{
			name: "without tid",
			err: &TracerError{
				Op:     "prepare_for_run",
				Kind:   ErrKernelCall,
				Detail: "set_gpr failed",
			},
			expected: "prepare_for_run: set_gpr failed",
		},
		{
			name: "kind only",
			err: &TracerError{
				Kind: ErrInvariant,
			},
			expected: "invariant violation",
		},
		{
			name: "with underlying error",
			err: &TracerError{
				Op:   "wait_all",
				Kind: ErrKernelCall,
				Err:  fmt.Errorf("interrupted system call"),
			},
			expected: "wait_all: kernel call failed: interrupted system call",
		},
		{
			name: "with address",
			err: &TracerError{
				Op:   "peekdata",
				Addr: 0x401000,
				Kind: ErrKernelCall,
			},
			expected: "peekdata: addr 0x401000: kernel call failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("TracerError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTracerError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := &TracerError{
		Op:   "test",
		Kind: ErrKernelCall,
		Err:  underlying,
	}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	var nilErr *TracerError
	if got := nilErr.Unwrap(); got != nil {
		t.Errorf("nil.Unwrap() = %v, want nil", got)
	}
}

func TestTracerError_Is(t *testing.T) {
	err1 := &TracerError{Kind: ErrNotFound, Op: "test1"}
	err2 := &TracerError{Kind: ErrNotFound, Op: "test2"}
	err3 := &TracerError{Kind: ErrInvariant, Op: "test3"}

	if !err1.Is(err2) {
		t.Error("err1.Is(err2) should be true (same kind)")
	}

	if err1.Is(err3) {
		t.Error("err1.Is(err3) should be false (different kind)")
	}

	if err1.Is(fmt.Errorf("some error")) {
		t.Error("err1.Is(fmt.Errorf(...)) should be false")
	}

	var nilErr *TracerError
	if !nilErr.Is(nil) {
		t.Error("nil.Is(nil) should be true")
	}
}

func TestNew(t *testing.T) {
	err := New(ErrInvalidState, "validate", "thread id is zero")

	if err.Kind != ErrInvalidState {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrInvalidState)
	}
	if err.Op != "validate" {
		t.Errorf("Op = %q, want %q", err.Op, "validate")
	}
	if err.Detail != "thread id is zero" {
		t.Errorf("Detail = %q, want %q", err.Detail, "thread id is zero")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	err := Wrap(underlying, ErrKernelCall, "ptrace attach")

	if err.Err != underlying {
		t.Error("Wrapped error should preserve underlying error")
	}
	if err.Kind != ErrKernelCall {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrKernelCall)
	}
	if err.Op != "ptrace attach" {
		t.Errorf("Op = %q, want %q", err.Op, "ptrace attach")
	}
}

func TestWrapWithTid(t *testing.T) {
	underlying := fmt.Errorf("not found")
	err := WrapWithTid(underlying, ErrNotFound, "get_thread", 1234)

	if err.Tid != 1234 {
		t.Errorf("Tid = %d, want %d", err.Tid, 1234)
	}
}

func TestWrapWithDetail(t *testing.T) {
	underlying := fmt.Errorf("syscall failed")
	err := WrapWithDetail(underlying, ErrKernelCall, "set_options", "unsupported ptrace option")

	if err.Detail != "unsupported ptrace option" {
		t.Errorf("Detail = %q, want %q", err.Detail, "unsupported ptrace option")
	}
}

func TestIsKind(t *testing.T) {
	err := &TracerError{Kind: ErrNotFound}
	wrapped := fmt.Errorf("wrapped: %w", err)

	if !IsKind(err, ErrNotFound) {
		t.Error("IsKind(err, ErrNotFound) should be true")
	}
	if !IsKind(wrapped, ErrNotFound) {
		t.Error("IsKind(wrapped, ErrNotFound) should be true")
	}
	if IsKind(err, ErrInvariant) {
		t.Error("IsKind(err, ErrInvariant) should be false")
	}
	if IsKind(fmt.Errorf("plain error"), ErrNotFound) {
		t.Error("IsKind(plain error, ErrNotFound) should be false")
	}
}

func TestGetKind(t *testing.T) {
	err := &TracerError{Kind: ErrResourceExhausted}
	wrapped := fmt.Errorf("wrapped: %w", err)

	kind, ok := GetKind(err)
	if !ok || kind != ErrResourceExhausted {
		t.Errorf("GetKind(err) = (%v, %v), want (%v, true)", kind, ok, ErrResourceExhausted)
	}

	kind, ok = GetKind(wrapped)
	if !ok || kind != ErrResourceExhausted {
		t.Errorf("GetKind(wrapped) = (%v, %v), want (%v, true)", kind, ok, ErrResourceExhausted)
	}

	_, ok = GetKind(fmt.Errorf("plain error"))
	if ok {
		t.Error("GetKind(plain error) should return false")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *TracerError
		kind ErrorKind
	}{
		{"ErrThreadNotFound", ErrThreadNotFound, ErrNotFound},
		{"ErrBreakpointExists", ErrBreakpointExists, ErrInvariant},
		{"ErrBreakpointNotFound", ErrBreakpointNotFound, ErrNotFound},
		{"ErrHWBreakpointExists", ErrHWBreakpointExists, ErrInvariant},
		{"ErrNoFreeHWSlot", ErrNoFreeHWSlot, ErrResourceExhausted},
		{"ErrKernelCallFailed", ErrKernelCallFailed, ErrKernelCall},
		{"ErrTraceeExited", ErrTraceeExited, ErrInvalidState},
		{"ErrNotAttached", ErrNotAttached, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("%s.Kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
			}
			wrapped := Wrap(fmt.Errorf("underlying"), tt.kind, "test")
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, %s) should be true", tt.name)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	underlying := fmt.Errorf("no such process")
	err1 := Wrap(underlying, ErrNotFound, "get_thread")
	err2 := fmt.Errorf("tracer operation failed: %w", err1)

	if !errors.Is(err2, ErrThreadNotFound) {
		t.Error("errors.Is should find ErrThreadNotFound in chain")
	}

	var terr *TracerError
	if !errors.As(err2, &terr) {
		t.Error("errors.As should find TracerError in chain")
	}
	if terr.Op != "get_thread" {
		t.Errorf("terr.Op = %q, want %q", terr.Op, "get_thread")
	}

	if errors.Unwrap(err1) != underlying {
		t.Error("Unwrap should return underlying error")
	}
}
