package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sflowg-labs/deliverable-workflows/audit"
)

var auditDSN string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail recorded for past executions",
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay <executionId>",
	Short: "Print the ordered rule-evaluation trail for an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditReplay,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditDSN, "db", "", "postgres connection string (audit.PostgresSink); required")
	auditCmd.AddCommand(auditReplayCmd)
}

func runAuditReplay(c *cobra.Command, args []string) error {
	executionID := args[0]
	if auditDSN == "" {
		return fmt.Errorf("workflowctl: --db is required")
	}

	sink, err := audit.OpenPostgresSink(audit.PostgresConfig{ConnectionString: auditDSN})
	if err != nil {
		return fmt.Errorf("workflowctl: open audit store: %w", err)
	}
	defer sink.Close()

	trail, err := sink.GetAuditTrail(context.Background(), executionID)
	if err != nil {
		return fmt.Errorf("workflowctl: fetch audit trail: %w", err)
	}

	for _, rec := range trail {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("workflowctl: encode audit record: %w", err)
		}
		fmt.Fprintln(c.OutOrStdout(), string(line))
	}
	return nil
}
