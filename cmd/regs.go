package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tracer-go/tracer"
)

var regsCmd = &cobra.Command{
	Use:   "regs <pid>",
	Short: "Dump a stopped tracee's cached general-purpose registers",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegs,
}

func init() {
	rootCmd.AddCommand(regsCmd)
}

func runRegs(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q: %w", args[0], err)
	}

	tr, err := tracer.New(pid)
	if err != nil {
		return err
	}
	if err := tr.Attach(pid); err != nil {
		return err
	}
	defer tr.DetachAndCont(pid, 0)

	if _, err := tr.WaitAllAndUpdateRegs(); err != nil {
		return err
	}
	printRegs(tr, pid)
	return nil
}

// printRegs prints the instruction pointer in hex, then the cached
// register block via %+v (field names with decimal values) rather than
// naming individual fields, since GPRegs's layout differs by GOARCH and
// this package carries no build tags of its own.
func printRegs(tr *tracer.Tracer, pid int) {
	entry, ok := tr.Threads.GetThread(pid)
	if !ok {
		fmt.Printf("tid %d: not live\n", pid)
		return
	}
	fmt.Printf("ip=%#x\n%+v\n", tr.Arch.InstructionPointer(&entry.GPR), entry.GPR)
}
