// Package cli implements adectl, the offline companion of the decision
// engine: it validates rule files and runs evaluations without a server.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the adectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "adectl",
		Short:         "Validate access rules and dry-run access decisions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRulesCmd(), newEvaluateCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
