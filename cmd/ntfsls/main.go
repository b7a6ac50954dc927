/*
ntfsls is a thin demonstration CLI over package mft: it is not part of the core decoding pipeline, just an external
collaborator showing how a caller wires a volume handle, a sync.RWMutex, and the core types together.
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ntfsls",
		Short: "Inspect an NTFS volume image using package mft",
	}
	root.AddCommand(newLsCmd())
	root.AddCommand(newDumpMftCmd())
	root.AddCommand(newStatCmd())
	return root
}

// verbosePrintf returns a sink matching the teacher's "-v" idiom: an injected formatting function, never a package
// global, so library code stays silent by default.
func verbosePrintf(enabled bool) func(format string, args ...interface{}) {
	if !enabled {
		return func(string, ...interface{}) {}
	}
	return func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
