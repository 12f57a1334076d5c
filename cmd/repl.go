package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"tracer-go/tracer"
)

// runREPL drives a minimal interactive session against an already-
// stopped tracee: continue, single-step, step-until, step-out,
// break, register dump, and quit. It puts the controlling
// terminal in raw mode for the duration so single-keystroke-free line
// editing still works while ISIG/ICANON don't interfere with echoing
// the tracee's own stdout, mirroring the raw-mode-for-the-session
// pattern the teacher's console handling uses around an attached
// program's I/O.
func runREPL(tr *tracer.Tracer, pid int) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return replLoop(tr, pid, os.Stdin)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return replLoop(tr, pid, os.Stdin)
	}
	defer term.Restore(fd, oldState)

	if w, _, err := term.GetSize(fd); err == nil {
		replWidth = w
	}
	return replLoop(tr, pid, os.Stdin)
}

var replWidth = 80

func replLoop(tr *tracer.Tracer, pid int, in *os.File) error {
	reader := bufio.NewReader(in)
	fmt.Fprint(os.Stdout, "\r\ntracer-go> ")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Fprint(os.Stdout, "\r\ntracer-go> ")
			continue
		}

		switch fields[0] {
		case "c", "continue":
			if err := tr.ContAllAndSetBPs(); err != nil {
				fmt.Fprintf(os.Stdout, "\r\ncontinue: %v", err)
				break
			}
			statuses, err := tr.WaitAllAndUpdateRegs()
			if err != nil {
				fmt.Fprintf(os.Stdout, "\r\nwait: %v", err)
				break
			}
			for _, st := range statuses {
				fmt.Fprintf(os.Stdout, "\r\ntid %d: raw status %#x", st.Tid, st.Status)
			}
		case "s", "step":
			if err := tr.SingleStep(pid); err != nil {
				fmt.Fprintf(os.Stdout, "\r\nstep: %v", err)
			}
			printReplRegs(tr, pid)
		case "until":
			if len(fields) < 2 {
				fmt.Fprint(os.Stdout, "\r\nusage: until <addr>")
				break
			}
			target, perr := strconv.ParseUint(fields[1], 0, 64)
			if perr != nil {
				fmt.Fprintf(os.Stdout, "\r\nbad address: %v", perr)
				break
			}
			if err := tr.StepUntil(pid, target, -1); err != nil {
				fmt.Fprintf(os.Stdout, "\r\nstep-until: %v", err)
			}
			printReplRegs(tr, pid)
		case "finish":
			if err := tr.SteppingFinish(pid); err != nil {
				fmt.Fprintf(os.Stdout, "\r\nfinish: %v", err)
			}
			printReplRegs(tr, pid)
		case "break":
			if len(fields) < 2 {
				fmt.Fprint(os.Stdout, "\r\nusage: break <addr>")
				break
			}
			addr, perr := strconv.ParseUint(fields[1], 0, 64)
			if perr != nil {
				fmt.Fprintf(os.Stdout, "\r\nbad address: %v", perr)
				break
			}
			if _, err := tr.RegisterBreakpoint(addr); err != nil {
				fmt.Fprintf(os.Stdout, "\r\nbreak: %v", err)
			}
		case "regs":
			printReplRegs(tr, pid)
		case "q", "quit":
			fmt.Fprint(os.Stdout, "\r\n")
			return tr.DetachAndCont(pid, 0)
		default:
			fmt.Fprintf(os.Stdout, "\r\nunknown command %q (c/s/until/finish/break/regs/q)", fields[0])
		}
		fmt.Fprint(os.Stdout, "\r\ntracer-go> ")
	}
}

func printReplRegs(tr *tracer.Tracer, pid int) {
	entry, ok := tr.Threads.GetThread(pid)
	if !ok {
		fmt.Fprint(os.Stdout, "\r\ntracee exited")
		return
	}
	line := fmt.Sprintf("ip=%#x", tr.Arch.InstructionPointer(&entry.GPR))
	if len(line) > replWidth {
		line = line[:replWidth]
	}
	fmt.Fprintf(os.Stdout, "\r\n%s", line)
}
