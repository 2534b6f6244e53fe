// Package catalog provides reference implementations of the orchestrator's
// two read-side persistence ports (spec.md §6: WorkflowCatalog,
// RiskRulesStore). A filesystem implementation mirrors the teacher's own
// runtime/app.go loadFlows (glob a directory, decode each YAML document),
// and a Postgres implementation mirrors audit.PostgresSink's connection
// pool setup, so both the workflow-definition/risk-rules read path and the
// audit write path share the same driver stack (jmoiron/sqlx + lib/pq).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// FilesystemCatalog loads WorkflowDefinitions from
// "<dir>/<schemaKey>/<version>.yaml", following runtime/app.go's
// filepath.Glob-and-decode convention.
type FilesystemCatalog struct {
	Dir string
}

// NewFilesystemCatalog constructs a catalog rooted at dir.
func NewFilesystemCatalog(dir string) *FilesystemCatalog {
	return &FilesystemCatalog{Dir: dir}
}

// Load reads and decodes the workflow definition file. Context is accepted
// for port-interface parity with a remote-backed implementation; the local
// filesystem read itself is not cancellable mid-read.
func (c *FilesystemCatalog) Load(_ context.Context, schemaKey, version string) (*workflow.WorkflowDefinition, error) {
	path := filepath.Join(c.Dir, schemaKey, version+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read workflow %s/%s: %w", schemaKey, version, err)
	}
	var def workflow.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("catalog: decode workflow %s/%s: %w", schemaKey, version, err)
	}
	if def.SchemaKey == "" {
		def.SchemaKey = schemaKey
	}
	if def.Version == "" {
		def.Version = version
	}
	if err := def.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("catalog: apply defaults for %s/%s: %w", schemaKey, version, err)
	}
	return &def, nil
}

// FilesystemRiskRulesStore loads a schema's risk rules document from
// "<dir>/<schemaKey>.json" (the wire format is JSON per spec.md §6).
type FilesystemRiskRulesStore struct {
	Dir string
}

// NewFilesystemRiskRulesStore constructs a store rooted at dir.
func NewFilesystemRiskRulesStore(dir string) *FilesystemRiskRulesStore {
	return &FilesystemRiskRulesStore{Dir: dir}
}

// Load reads and decodes the schema's risk rules document. A missing file
// is not an error: a schema with no risk rules document runs with an empty
// Config (no rules ever trigger), matching the orchestrator's own
// rulesCfg == nil fallback.
func (s *FilesystemRiskRulesStore) Load(_ context.Context, schemaKey string) (*riskrules.Config, error) {
	path := filepath.Join(s.Dir, schemaKey+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &riskrules.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read risk rules for %s: %w", schemaKey, err)
	}
	var cfg riskrules.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("catalog: decode risk rules for %s: %w", schemaKey, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: invalid risk rules for %s: %w", schemaKey, err)
	}
	return &cfg, nil
}
