package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "cost-review")
	if err := os.MkdirAll(schemaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `
schemaKey: cost-review
version: "1"
steps:
  - stepNumber: 1
    stepName: estimate
    kind: calc.estimate
    outputVariable: estimate
    errorHandling:
      onError: fail
`
	if err := os.WriteFile(filepath.Join(schemaDir, "1.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewFilesystemCatalog(dir)
	def, err := c.Load(context.Background(), "cost-review", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Steps) != 1 || def.Steps[0].StepName != "estimate" {
		t.Fatalf("unexpected workflow definition: %+v", def)
	}
}

func TestFilesystemCatalog_LoadMissing(t *testing.T) {
	c := NewFilesystemCatalog(t.TempDir())
	if _, err := c.Load(context.Background(), "does-not-exist", "1"); err == nil {
		t.Fatalf("expected an error for a missing workflow file")
	}
}

func TestFilesystemRiskRulesStore_LoadMissingReturnsEmptyConfig(t *testing.T) {
	s := NewFilesystemRiskRulesStore(t.TempDir())
	cfg, err := s.Load(context.Background(), "no-rules-here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.GlobalRules) != 0 {
		t.Fatalf("expected an empty config, got %+v", cfg)
	}
}

func TestFilesystemRiskRulesStore_Load(t *testing.T) {
	dir := t.TempDir()
	doc := `{
		"version": 1,
		"global_rules": [
			{"rule_id": "r1", "condition": "$input.load > 1000", "risk_factor": 0.4, "action_if_triggered": "require_review", "message": "high load", "enabled": true}
		]
	}`
	if err := os.WriteFile(filepath.Join(dir, "cost-review.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFilesystemRiskRulesStore(dir)
	cfg, err := s.Load(context.Background(), "cost-review")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.GlobalRules) != 1 || cfg.GlobalRules[0].RuleID != "r1" {
		t.Fatalf("unexpected risk rules config: %+v", cfg)
	}
}
