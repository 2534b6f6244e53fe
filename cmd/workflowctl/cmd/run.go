package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sflowg-labs/deliverable-workflows/audit"
	"github.com/sflowg-labs/deliverable-workflows/catalog"
	"github.com/sflowg-labs/deliverable-workflows/orchestrator"
	stephttp "github.com/sflowg-labs/deliverable-workflows/stepexecutors/http"
	"github.com/sflowg-labs/deliverable-workflows/streaming"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

var (
	runWorkflowsDir string
	runRulesDir     string
)

var runCmd = &cobra.Command{
	Use:   "run <schemaKey> <version> <input.json>",
	Short: "Execute a workflow definition against an input document",
	Args:  cobra.ExactArgs(3),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runWorkflowsDir, "workflows-dir", "./workflows", "directory holding <schemaKey>/<version>.yaml workflow definitions")
	runCmd.Flags().StringVar(&runRulesDir, "rules-dir", "./rules", "directory holding <schemaKey>.json risk rules documents")
}

func runRun(c *cobra.Command, args []string) error {
	schemaKey, version, inputPath := args[0], args[1], args[2]

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("workflowctl: read input file: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("workflowctl: decode input file: %w", err)
	}

	reg := workflow.Registry{
		"http.request": stephttp.New(stephttp.DefaultConfig()),
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	orch := orchestrator.New(
		catalog.NewFilesystemCatalog(runWorkflowsDir),
		catalog.NewFilesystemRiskRulesStore(runRulesDir),
		reg,
		streaming.NewManager(),
		audit.NewMemorySink(),
		logger,
	)

	resp, err := orch.ExecuteWorkflow(context.Background(), orchestrator.ExecuteRequest{
		SchemaKey: schemaKey,
		Version:   version,
		Input:     input,
	})
	if err != nil {
		return fmt.Errorf("workflowctl: execute workflow: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("workflowctl: encode response: %w", err)
	}
	fmt.Fprintln(c.OutOrStdout(), string(out))
	return nil
}
