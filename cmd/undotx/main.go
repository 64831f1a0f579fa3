// Package main implements the undotx CLI tool.
//
// The undotx tool drives the byte-granular undo runtime from the command
// line:
//
//	undotx bench --workload=matmul --abort   # Run a kernel under epochs
//	undotx verify ./...                      # Check Track declarations statically
//	undotx version                           # Show version information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "undotx: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "undotx",
		Short: "byte-granular undo logging for micro-transactions",
		Long: `
undotx runs and checks programs that use the undo runtime.

An epoch is opened with undo.BeginEpoch, every location about to be written
is declared with undo.Track, and the epoch ends with undo.Commit or
undo.Abort. Abort restores every declared byte to its value at declaration
time.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBenchCmd(), newVerifyCmd(), newVersionCmd())
	return root
}
