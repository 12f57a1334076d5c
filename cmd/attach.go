package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tracer-go/tracer"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Attach to a running process and stop it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
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
	statuses, err := tr.WaitAllAndUpdateRegs()
	if err != nil {
		return err
	}
	for _, st := range statuses {
		fmt.Printf("tid %d stopped, raw status %#x\n", st.Tid, st.Status)
	}
	return runREPL(tr, pid)
}
