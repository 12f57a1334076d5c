package tracer

import (
	"os"
	"runtime"
	"testing"
)

func requirePtrace(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("skipping ptrace test: requires Linux")
	}
	if os.Getuid() != 0 {
		if ok, err := HasPtraceCapability(); err != nil || !ok {
			t.Skip("skipping ptrace test: requires CAP_SYS_PTRACE")
		}
	}
}

func TestNew_ResolvesArch(t *testing.T) {
	tr, err := New(os.Getpid())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Arch == nil {
		t.Fatal("expected a non-nil arch adapter")
	}
	if tr.Threads.Len() != 0 {
		t.Error("new tracer must start with no registered threads")
	}
}

// TestSpawnAttachContinueExit drives a minimal real tracee (/bin/true)
// through the full attach/continue/wait/exit lifecycle. It is skipped
// outside environments where ptrace is actually usable.
func TestSpawnAttachContinueExit(t *testing.T) {
	requirePtrace(t)

	pid, err := Spawn(SpawnOptions{Path: "/bin/true"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	tr, err := New(pid)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.Threads.RegisterThread(pid)

	// os/exec with SysProcAttr.Ptrace stops the child at its own
	// execve via PTRACE_TRACEME; the first wait observes that stop.
	statuses, err := tr.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs (initial exec stop): %v", err)
	}
	if len(statuses) != 1 || statuses[0].Tid != pid {
		t.Fatalf("expected exactly one status for pid %d, got %v", pid, statuses)
	}

	if err := tr.SetOptions(pid, 0); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}

	if err := tr.ContAllAndSetBPs(); err != nil {
		t.Fatalf("ContAllAndSetBPs: %v", err)
	}

	statuses, err = tr.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs (exit): %v", err)
	}
	if len(statuses) == 0 || !statuses[0].Status.Exited() {
		t.Fatalf("expected the tracee to have exited, got %v", statuses)
	}
	if tr.Threads.Len() != 0 {
		t.Error("exited thread must be unregistered from the live set")
	}
}

// TestSingleStep exercises a real single-step cycle against a spawned
// tracee, confirming the instruction pointer advances.
func TestSingleStep(t *testing.T) {
	requirePtrace(t)

	pid, err := Spawn(SpawnOptions{Path: "/bin/true"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	tr, err := New(pid)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.Threads.RegisterThread(pid)

	if _, err := tr.WaitAllAndUpdateRegs(); err != nil {
		t.Fatalf("initial wait: %v", err)
	}

	entry, _ := tr.Threads.GetThread(pid)
	before := tr.Arch.InstructionPointer(&entry.GPR)

	if err := tr.SingleStep(pid); err != nil {
		// The tracee may legitimately exit on its very first
		// instruction under some dynamic loaders; treat that as a
		// skip rather than a failure since this test only verifies
		// the stepping plumbing, not any particular binary's code.
		if _, ok := tr.Threads.GetThread(pid); !ok {
			t.Skip("tracee exited before a step could be observed")
		}
		t.Fatalf("SingleStep: %v", err)
	}

	entry, ok := tr.Threads.GetThread(pid)
	if !ok {
		t.Skip("tracee exited after the step")
	}
	after := tr.Arch.InstructionPointer(&entry.GPR)
	if after == before {
		t.Error("expected instruction pointer to change after a single step")
	}

	tr.DetachForKill(pid)
}

