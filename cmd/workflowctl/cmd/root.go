// Package cmd implements workflowctl's cobra command tree, grounded on
// cli/cmd/root.go's Use/Short/Execute shape, generalized from a
// plugin-binary build tool to an operator tool for the runtime itself: run
// a workflow definition against an input document, and replay an
// execution's audit trail.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "workflowctl",
	Short: "workflowctl operates the deliverable workflow runtime",
	Long: `workflowctl runs workflow definitions against input documents and
inspects the audit trail recorded for past executions.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(auditCmd)
}
