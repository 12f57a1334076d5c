package tracer

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	tracererrors "tracer-go/errors"
)

// SyncPipe is a pipe used to synchronize the parent with a child that
// has called TraceMe but not yet exec'd: the parent must not attach
// register/memory operations to the child until it has confirmed tracing
// is active and the child has reached its first stop.
type SyncPipe struct {
	parent *os.File
	child  *os.File
}

// NewSyncPipe creates a new parent/child synchronization pipe.
func NewSyncPipe() (*SyncPipe, error) {
	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	return &SyncPipe{
		parent: os.NewFile(uintptr(fds[0]), "syncpipe-parent"),
		child:  os.NewFile(uintptr(fds[1]), "syncpipe-child"),
	}, nil
}

func (s *SyncPipe) Close() {
	if s.parent != nil {
		s.parent.Close()
	}
	if s.child != nil {
		s.child.Close()
	}
}

// Wait blocks the parent until the child signals readiness.
func (s *SyncPipe) Wait() error {
	buf := make([]byte, 1)
	_, err := s.parent.Read(buf)
	return err
}

// WaitWithError is like Wait but surfaces a message the child wrote
// instead of a bare ready byte, for reporting exec failures back to the
// parent.
func (s *SyncPipe) WaitWithError() error {
	buf := make([]byte, 1024)
	n, err := s.parent.Read(buf)
	if err != nil {
		return err
	}
	if n > 0 && buf[0] != 0 {
		return fmt.Errorf("%s", string(buf[:n]))
	}
	return nil
}

// Signal sends a ready byte from the child end.
func (s *SyncPipe) Signal() error {
	_, err := s.child.Write([]byte{0})
	return err
}

// SignalError reports a child-side failure (e.g. a failed exec) to the
// parent over the pipe.
func (s *SyncPipe) SignalError(err error) error {
	_, writeErr := s.child.Write([]byte(err.Error()))
	return writeErr
}

// SpawnOptions configures Spawn's child process.
type SpawnOptions struct {
	Path string
	Args []string
	Env  []string
	// Uid/Gid, if non-nil, are applied in the child before exec, mirroring
	// how a container runtime drops privilege before handing control to
	// the traced program.
	Uid *int
	Gid *int
}

// Spawn forks and execs Path under ptrace, returning the new tracee's
// pid as soon as the child has been started. The child stops at its own
// exec (the kernel delivers a SIGTRAP there because of PTRACE_TRACEME);
// the caller must issue an initial WaitAllAndUpdateRegs-style wait to
// observe that stop before calling ContAllAndSetBPs.
//
// This uses exec.Cmd's SysProcAttr.Ptrace rather than a hand-rolled
// fork/exec, so os/exec's existing fd, credential, and signal-mask
// plumbing is reused instead of re-implemented.
func Spawn(opts SpawnOptions) (pid int, err error) {
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = opts.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	attr := &syscall.SysProcAttr{Ptrace: true}
	if opts.Uid != nil || opts.Gid != nil {
		cred := &syscall.Credential{}
		if opts.Uid != nil {
			cred.Uid = uint32(*opts.Uid)
		}
		if opts.Gid != nil {
			cred.Gid = uint32(*opts.Gid)
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return 0, tracererrors.Wrap(err, tracererrors.ErrKernelCall, "Spawn")
	}
	return cmd.Process.Pid, nil
}
