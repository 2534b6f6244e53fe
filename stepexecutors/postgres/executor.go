// Package postgres adapts a parameterized SQL query into the
// workflow.StepExecutor port, for Step.Kind values "postgres.get" (single
// row SELECT) and "postgres.exec" (INSERT/UPDATE/DELETE). Grounded on
// plugins/postgres/plugin.go's connection-pool setup
// (SetMaxOpenConns/SetMaxIdleConns/ConnMaxLifetime, Ping on Initialize) and
// its Get/Exec/scanRow logic, adapted from the teacher's
// "task(exec, typed input/output struct)" convention to
// workflow.StepExecutor.Execute(ctx, step, resolvedInput map[string]any),
// and from database/sql to jmoiron/sqlx (matching the audit package's
// PostgresSink, per SPEC_FULL.md's ambient-stack expansion).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// Config mirrors plugins/postgres/plugin.go's Config exactly.
type Config struct {
	ConnectionString  string `yaml:"connection_string" validate:"required"`
	MaxOpenConns      int    `yaml:"max_open_conns" default:"10" validate:"gte=1,lte=100"`
	MaxIdleConns      int    `yaml:"max_idle_conns" default:"5" validate:"gte=0,lte=50"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" default:"300000" validate:"gte=0"`
}

// Executor implements workflow.StepExecutor for "postgres.get"/"postgres.exec".
type Executor struct {
	db *sqlx.DB
}

// Open opens and verifies the connection pool, following
// plugins/postgres/plugin.go's Initialize sequence.
func Open(cfg Config) (*Executor, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres step executor: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres step executor: ping: %w", err)
	}
	return &Executor{db: db}, nil
}

// Close releases the connection pool.
func (e *Executor) Close() error { return e.db.Close() }

// Execute dispatches on step.Kind between a single-row SELECT and a
// write statement, matching plugins/postgres/plugin.go's Get/Exec split.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, resolvedInput map[string]any) (any, error) {
	query, _ := resolvedInput["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("postgres step %q: query is required", step.StepName)
	}
	params, _ := resolvedInput["params"].([]any)

	switch step.Kind {
	case "postgres.get":
		return e.get(ctx, query, params)
	case "postgres.exec":
		return e.exec(ctx, query, params)
	default:
		return nil, fmt.Errorf("postgres step %q: unsupported kind %q", step.StepName, step.Kind)
	}
}

func (e *Executor) get(ctx context.Context, query string, params []any) (any, error) {
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("postgres.get: query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("postgres.get: columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("postgres.get: column types: %w", err)
	}

	if !rows.Next() {
		return map[string]any{"row": map[string]any{}, "found": false}, nil
	}

	row, err := scanRow(cols, colTypes, rows)
	if err != nil {
		return nil, fmt.Errorf("postgres.get: scan: %w", err)
	}
	return map[string]any{"row": row, "found": true}, nil
}

func (e *Executor) exec(ctx context.Context, query string, params []any) (any, error) {
	result, err := e.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("postgres.exec: query failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres.exec: rows affected: %w", err)
	}
	return map[string]any{"affected_rows": affected}, nil
}

// scanRow is adapted verbatim from plugins/postgres/plugin.go, widened from
// a concrete GetOutput field to the resolved-input/output map[string]any
// shape every step executor returns.
func scanRow(cols []string, colTypes []*sql.ColumnType, rows *sql.Rows) (map[string]any, error) {
	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	result := make(map[string]any, len(cols))
	for i, col := range cols {
		val := values[i]
		switch colTypes[i].DatabaseTypeName() {
		case "JSONB", "JSON", "UUID", "NUMERIC", "DECIMAL":
			if b, ok := val.([]byte); ok {
				result[col] = string(b)
				continue
			}
			result[col] = val
		default:
			result[col] = val
		}
	}
	return result, nil
}
