// Command tracer-go drives ptrace(2) against a spawned or attached
// process: set breakpoints, continue, single-step, step until an
// address, step out of a call, and inspect registers.
package main

import (
	"fmt"
	"os"

	"tracer-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tracer-go: %v\n", err)
		os.Exit(1)
	}
}
