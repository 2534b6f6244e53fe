package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresConfig mirrors plugins/postgres/plugin.go's Config: a connection
// string plus pool-sizing knobs, defaulted the same way
// (github.com/creasty/defaults at load time).
type PostgresConfig struct {
	ConnectionString  string `yaml:"connection_string" validate:"required"`
	MaxOpenConns      int    `yaml:"max_open_conns" default:"10" validate:"gte=1,lte=100"`
	MaxIdleConns      int    `yaml:"max_idle_conns" default:"5" validate:"gte=0,lte=50"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" default:"300000" validate:"gte=0"`
}

// PostgresSink is the relational Sink implementation (spec.md §4.10
// "Implementations use a relational store with append-only tables keyed by
// executionId"). Connection pool setup follows plugins/postgres/plugin.go's
// SetMaxOpenConns/SetMaxIdleConns/ConnMaxLifetime/Ping sequence exactly.
type PostgresSink struct {
	db *sqlx.DB
}

// OpenPostgresSink opens and verifies the connection pool.
func OpenPostgresSink(cfg PostgresConfig) (*PostgresSink, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to ping postgres: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS rule_evaluations (
	execution_id       TEXT NOT NULL,
	rule_id            TEXT NOT NULL,
	rule_type          TEXT NOT NULL,
	step_name          TEXT,
	condition          TEXT NOT NULL,
	condition_result   BOOLEAN NOT NULL,
	risk_factor        DOUBLE PRECISION,
	triggered_action   TEXT,
	message            TEXT,
	evaluation_time_ms DOUBLE PRECISION NOT NULL,
	error              TEXT,
	recorded_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS routing_log (
	execution_id           TEXT NOT NULL,
	schema_key             TEXT NOT NULL,
	version                TEXT NOT NULL,
	final_risk_score       DOUBLE PRECISION NOT NULL,
	final_routing_decision TEXT NOT NULL,
	requires_hitl          BOOLEAN NOT NULL,
	escalation_level       INTEGER,
	summary_message        TEXT,
	recorded_at            TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS human_overrides (
	execution_id      TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	original_decision TEXT NOT NULL,
	override_decision TEXT NOT NULL,
	reason            TEXT,
	recorded_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS human_decisions (
	execution_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	decision     TEXT NOT NULL,
	notes        TEXT,
	recorded_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rule_effectiveness (
	rule_id          TEXT PRIMARY KEY,
	times_triggered  INTEGER NOT NULL DEFAULT 0,
	times_overridden INTEGER NOT NULL DEFAULT 0
);
`

// Migrate creates the append-only tables if they don't already exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

func (s *PostgresSink) LogRuleEvaluation(ctx context.Context, rec RuleEvaluationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO rule_evaluations
			(execution_id, rule_id, rule_type, step_name, condition, condition_result,
			 risk_factor, triggered_action, message, evaluation_time_ms, error, recorded_at)
		VALUES
			(:execution_id, :rule_id, :rule_type, :step_name, :condition, :condition_result,
			 :risk_factor, :triggered_action, :message, :evaluation_time_ms, :error, :recorded_at)`, rec)
	if err != nil {
		return err
	}
	if !rec.ConditionResult {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_effectiveness (rule_id, times_triggered, times_overridden)
		VALUES ($1, 1, 0)
		ON CONFLICT (rule_id) DO UPDATE SET times_triggered = rule_effectiveness.times_triggered + 1`, rec.RuleID)
	return err
}

func (s *PostgresSink) LogRoutingDecision(ctx context.Context, rec RoutingLogRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO routing_log
			(execution_id, schema_key, version, final_risk_score, final_routing_decision,
			 requires_hitl, escalation_level, summary_message, recorded_at)
		VALUES
			(:execution_id, :schema_key, :version, :final_risk_score, :final_routing_decision,
			 :requires_hitl, :escalation_level, :summary_message, :recorded_at)`, rec)
	return err
}

func (s *PostgresSink) UpdateRuleEffectiveness(ctx context.Context, ruleID string, overridden bool) error {
	if !overridden {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_effectiveness (rule_id, times_triggered, times_overridden)
		VALUES ($1, 0, 1)
		ON CONFLICT (rule_id) DO UPDATE SET times_overridden = rule_effectiveness.times_overridden + 1`, ruleID)
	return err
}

func (s *PostgresSink) RecordHumanOverride(ctx context.Context, rec HumanOverrideRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO human_overrides (execution_id, user_id, original_decision, override_decision, reason, recorded_at)
		VALUES (:execution_id, :user_id, :original_decision, :override_decision, :reason, :recorded_at)`, rec)
	return err
}

func (s *PostgresSink) RecordHumanDecision(ctx context.Context, rec HumanDecisionRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO human_decisions (execution_id, user_id, decision, notes, recorded_at)
		VALUES (:execution_id, :user_id, :decision, :notes, :recorded_at)`, rec)
	return err
}

func (s *PostgresSink) GetAuditTrail(ctx context.Context, executionID string) ([]RuleEvaluationRecord, error) {
	var out []RuleEvaluationRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT execution_id, rule_id, rule_type, step_name, condition, condition_result,
		       risk_factor, triggered_action, message, evaluation_time_ms, error, recorded_at
		FROM rule_evaluations WHERE execution_id = $1 ORDER BY recorded_at ASC`, executionID)
	return out, err
}

func (s *PostgresSink) GetRoutingHistory(ctx context.Context, executionID string) ([]RoutingLogRecord, error) {
	var out []RoutingLogRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT execution_id, schema_key, version, final_risk_score, final_routing_decision,
		       requires_hitl, escalation_level, summary_message, recorded_at
		FROM routing_log WHERE execution_id = $1 ORDER BY recorded_at ASC`, executionID)
	return out, err
}

func (s *PostgresSink) GetRuleEffectivenessSummary(ctx context.Context, ruleID string) (RuleEffectivenessSummary, error) {
	var summary RuleEffectivenessSummary
	err := s.db.GetContext(ctx, &summary, `
		SELECT rule_id, times_triggered, times_overridden
		FROM rule_effectiveness WHERE rule_id = $1`, ruleID)
	if err == sql.ErrNoRows {
		return RuleEffectivenessSummary{RuleID: ruleID}, nil
	}
	if err != nil {
		return RuleEffectivenessSummary{}, err
	}
	if summary.TimesTriggered > 0 {
		summary.OverrideRate = float64(summary.TimesOverridden) / float64(summary.TimesTriggered)
	}
	return summary, nil
}

func (s *PostgresSink) GenerateComplianceReport(ctx context.Context, from, to time.Time, filter *ComplianceReportFilter) (ComplianceReport, error) {
	report := ComplianceReport{From: from, To: to, RoutingBreakdown: make(map[string]int)}

	if err := s.db.GetContext(ctx, &report.TotalRuleEvaluations, `
		SELECT COUNT(*) FROM rule_evaluations WHERE recorded_at BETWEEN $1 AND $2`, from, to); err != nil {
		return ComplianceReport{}, err
	}

	type routingCount struct {
		Decision string `db:"final_routing_decision"`
		Count    int    `db:"count"`
	}
	var counts []routingCount
	query := `SELECT final_routing_decision, COUNT(*) as count FROM routing_log
	          WHERE recorded_at BETWEEN $1 AND $2`
	args := []any{from, to}
	if filter != nil && filter.SchemaKey != "" {
		query += " AND schema_key = $3"
		args = append(args, filter.SchemaKey)
	}
	query += " GROUP BY final_routing_decision"
	if err := s.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return ComplianceReport{}, err
	}
	for _, c := range counts {
		report.RoutingBreakdown[c.Decision] = c.Count
	}

	if err := s.db.GetContext(ctx, &report.TotalExecutions, `
		SELECT COUNT(DISTINCT execution_id) FROM routing_log WHERE recorded_at BETWEEN $1 AND $2`, from, to); err != nil {
		return ComplianceReport{}, err
	}
	return report, nil
}

var _ Sink = (*PostgresSink)(nil)
