package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// PostgresConfig mirrors audit.PostgresConfig (connection string plus
// pool-sizing knobs), kept as its own type since the two ports may point at
// different databases in production.
type PostgresConfig struct {
	ConnectionString  string `yaml:"connection_string" validate:"required"`
	MaxOpenConns      int    `yaml:"max_open_conns" default:"10" validate:"gte=1,lte=100"`
	MaxIdleConns      int    `yaml:"max_idle_conns" default:"5" validate:"gte=0,lte=50"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" default:"300000" validate:"gte=0"`
}

const catalogSchemaDDL = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	schema_key TEXT NOT NULL,
	version    TEXT NOT NULL,
	document   JSONB NOT NULL,
	PRIMARY KEY (schema_key, version)
);
CREATE TABLE IF NOT EXISTS risk_rules_documents (
	schema_key TEXT PRIMARY KEY,
	document   JSONB NOT NULL
);
`

func openPool(cfg PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(catalogSchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to ensure schema: %w", err)
	}
	return db, nil
}

// PostgresWorkflowCatalog is a relational WorkflowCatalog. The document
// itself (an author-edited workflow definition) is stored as a single JSONB
// column — it is configuration, not a query target, so no normalized
// step/rule tables are needed the way audit.PostgresSink has for its
// append-only evaluation records.
type PostgresWorkflowCatalog struct {
	db *sqlx.DB
}

// OpenPostgresWorkflowCatalog opens the pool, verifies it, and ensures the
// schema exists, following audit.OpenPostgresSink's sequence.
func OpenPostgresWorkflowCatalog(cfg PostgresConfig) (*PostgresWorkflowCatalog, error) {
	db, err := openPool(cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresWorkflowCatalog{db: db}, nil
}

// Close releases the connection pool.
func (c *PostgresWorkflowCatalog) Close() error { return c.db.Close() }

// Put upserts a workflow definition document, used by deployment tooling to
// publish a new schema version.
func (c *PostgresWorkflowCatalog) Put(ctx context.Context, def *workflow.WorkflowDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("catalog: marshal workflow: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (schema_key, version, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (schema_key, version) DO UPDATE SET document = EXCLUDED.document
	`, def.SchemaKey, def.Version, doc)
	return err
}

// Load implements orchestrator.WorkflowCatalog.
func (c *PostgresWorkflowCatalog) Load(ctx context.Context, schemaKey, version string) (*workflow.WorkflowDefinition, error) {
	var doc []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT document FROM workflow_definitions WHERE schema_key = $1 AND version = $2
	`, schemaKey, version).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog: no workflow definition for %s/%s", schemaKey, version)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load workflow %s/%s: %w", schemaKey, version, err)
	}
	var def workflow.WorkflowDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("catalog: decode workflow %s/%s: %w", schemaKey, version, err)
	}
	if err := def.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("catalog: apply defaults for %s/%s: %w", schemaKey, version, err)
	}
	return &def, nil
}

// PostgresRiskRulesStore is a relational RiskRulesStore, sharing the same
// document-column storage shape as PostgresWorkflowCatalog.
type PostgresRiskRulesStore struct {
	db *sqlx.DB
}

// OpenPostgresRiskRulesStore opens the pool, verifies it, and ensures the
// schema exists.
func OpenPostgresRiskRulesStore(cfg PostgresConfig) (*PostgresRiskRulesStore, error) {
	db, err := openPool(cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresRiskRulesStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresRiskRulesStore) Close() error { return s.db.Close() }

// Put upserts a schema's risk rules document.
func (s *PostgresRiskRulesStore) Put(ctx context.Context, schemaKey string, cfg *riskrules.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("catalog: marshal risk rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_rules_documents (schema_key, document)
		VALUES ($1, $2)
		ON CONFLICT (schema_key) DO UPDATE SET document = EXCLUDED.document
	`, schemaKey, doc)
	return err
}

// Load implements orchestrator.RiskRulesStore. A missing document returns an
// empty Config, matching FilesystemRiskRulesStore's not-exist handling.
func (s *PostgresRiskRulesStore) Load(ctx context.Context, schemaKey string) (*riskrules.Config, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM risk_rules_documents WHERE schema_key = $1
	`, schemaKey).Scan(&doc)
	if err == sql.ErrNoRows {
		return &riskrules.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load risk rules for %s: %w", schemaKey, err)
	}
	var cfg riskrules.Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("catalog: decode risk rules for %s: %w", schemaKey, err)
	}
	return &cfg, nil
}
