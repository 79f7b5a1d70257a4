// Package cli wires configuration, logging, the capability registry and the
// HTTP server into the attune command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the attune command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "attune",
		Short:         "Attune completion-request orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the CLI and returns the exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
