package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tracer-go/tracer"
)

var breakCmd = &cobra.Command{
	Use:   "break <pid> <addr>",
	Short: "Register a software breakpoint in an attached tracee",
	Args:  cobra.ExactArgs(2),
	RunE:  runBreak,
}

func init() {
	rootCmd.AddCommand(breakCmd)
}

func runBreak(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q: %w", args[0], err)
	}
	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
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
	if _, err := tr.RegisterBreakpoint(addr); err != nil {
		return err
	}
	fmt.Printf("breakpoint registered at %#x\n", addr)
	return nil
}
