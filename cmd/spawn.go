package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tracer-go/tracer"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <path> [args...]",
	Short: "Spawn a new process under tracing and drop into a step/continue session",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSpawn,
}

func init() {
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	pid, err := tracer.Spawn(tracer.SpawnOptions{Path: args[0], Args: args[1:], Env: os.Environ()})
	if err != nil {
		return err
	}

	tr, err := tracer.New(pid)
	if err != nil {
		return err
	}
	tr.Threads.RegisterThread(pid)

	statuses, err := tr.WaitAllAndUpdateRegs()
	if err != nil {
		return err
	}
	for _, st := range statuses {
		fmt.Printf("tid %d stopped at exec, raw status %#x\n", st.Tid, st.Status)
	}
	return runREPL(tr, pid)
}
