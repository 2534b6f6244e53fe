// Package audit implements the Safety Audit Logger (component I): an
// append-only sink for rule evaluations, routing decisions, and human
// overrides, with a sanitizing layer in front of every write. The sink
// interface is grounded on the test-fixture naming observed in
// jordigilh-kubernaut's pkg/audit/pkg/datastorage packages
// (logRuleEvaluation/logRoutingDecision/getAuditTrail-shaped operations);
// the reference implementation follows the teacher's own
// plugins/postgres/plugin.go connection-pool conventions.
package audit

import (
	"context"
	"time"

	"github.com/sflowg-labs/deliverable-workflows/riskrules"
)

// RuleEvaluationRecord is one persisted riskrules.EvaluationRecord, scoped
// to an execution (spec.md §3 "Keyed by executionId").
type RuleEvaluationRecord struct {
	ExecutionID      string                 `json:"executionId" db:"execution_id"`
	RuleID           string                 `json:"ruleId" db:"rule_id"`
	RuleType         string                 `json:"ruleType" db:"rule_type"`
	StepName         string                 `json:"stepName,omitempty" db:"step_name"`
	Condition        string                 `json:"condition" db:"condition"`
	ConditionResult  bool                   `json:"conditionResult" db:"condition_result"`
	RiskFactor       *float64               `json:"riskFactor,omitempty" db:"risk_factor"`
	TriggeredAction  string                 `json:"triggeredAction,omitempty" db:"triggered_action"`
	Message          string                 `json:"message,omitempty" db:"message"`
	EvaluationTimeMs float64                `json:"evaluationTimeMs" db:"evaluation_time_ms"`
	Error            string                 `json:"error,omitempty" db:"error"`
	Context          map[string]any         `json:"context,omitempty" db:"-"`
	RecordedAt       time.Time              `json:"recordedAt" db:"recorded_at"`
}

// RoutingLogRecord is one persisted end-of-run routing decision.
type RoutingLogRecord struct {
	ExecutionID        string    `json:"executionId" db:"execution_id"`
	SchemaKey          string    `json:"schemaKey" db:"schema_key"`
	Version            string    `json:"version" db:"version"`
	FinalRiskScore      float64   `json:"finalRiskScore" db:"final_risk_score"`
	FinalRoutingDecision string  `json:"finalRoutingDecision" db:"final_routing_decision"`
	RequiresHITL        bool      `json:"requiresHitl" db:"requires_hitl"`
	EscalationLevel     *int      `json:"escalationLevel,omitempty" db:"escalation_level"`
	SummaryMessage      string    `json:"summaryMessage,omitempty" db:"summary_message"`
	RecordedAt          time.Time `json:"recordedAt" db:"recorded_at"`
}

// HumanOverrideRecord captures a human reversing an automated routing
// decision (spec.md §3's "recordHumanOverride").
type HumanOverrideRecord struct {
	ExecutionID     string    `json:"executionId" db:"execution_id"`
	UserID          string    `json:"userId" db:"user_id"`
	OriginalDecision string   `json:"originalDecision" db:"original_decision"`
	OverrideDecision string   `json:"overrideDecision" db:"override_decision"`
	Reason          string    `json:"reason,omitempty" db:"reason"`
	RecordedAt      time.Time `json:"recordedAt" db:"recorded_at"`
}

// HumanDecisionRecord captures a human resolving a paused/escalated run
// (spec.md §3's "recordHumanDecision").
type HumanDecisionRecord struct {
	ExecutionID string    `json:"executionId" db:"execution_id"`
	UserID      string    `json:"userId" db:"user_id"`
	Decision    string    `json:"decision" db:"decision"`
	Notes       string    `json:"notes,omitempty" db:"notes"`
	RecordedAt  time.Time `json:"recordedAt" db:"recorded_at"`
}

// RuleEffectivenessSummary aggregates how often a rule has triggered versus
// how often its triggering was subsequently overridden by a human.
type RuleEffectivenessSummary struct {
	RuleID            string  `json:"ruleId" db:"rule_id"`
	TimesTriggered    int     `json:"timesTriggered" db:"times_triggered"`
	TimesOverridden   int     `json:"timesOverridden" db:"times_overridden"`
	OverrideRate      float64 `json:"overrideRate" db:"override_rate"`
}

// ComplianceReportFilter narrows generateComplianceReport (spec.md §4.9).
type ComplianceReportFilter struct {
	SchemaKey string
	RuleID    string
}

// ComplianceReport is the output of generateComplianceReport.
type ComplianceReport struct {
	From              time.Time                  `json:"from"`
	To                time.Time                  `json:"to"`
	TotalExecutions   int                         `json:"totalExecutions"`
	TotalRuleEvaluations int                      `json:"totalRuleEvaluations"`
	RoutingBreakdown  map[string]int              `json:"routingBreakdown"`
	RuleEffectiveness []RuleEffectivenessSummary  `json:"ruleEffectiveness"`
}

// Sink is the audit port (spec.md §4.9): "append-only sink with a narrow
// port". All writes are best-effort from the orchestrator's perspective
// (spec.md "failure to persist an audit record is logged but does not fail
// the run") — callers are expected to log, not propagate, write errors.
type Sink interface {
	LogRuleEvaluation(ctx context.Context, rec RuleEvaluationRecord) error
	LogRoutingDecision(ctx context.Context, rec RoutingLogRecord) error
	UpdateRuleEffectiveness(ctx context.Context, ruleID string, overridden bool) error
	RecordHumanOverride(ctx context.Context, rec HumanOverrideRecord) error
	RecordHumanDecision(ctx context.Context, rec HumanDecisionRecord) error

	GetAuditTrail(ctx context.Context, executionID string) ([]RuleEvaluationRecord, error)
	GetRoutingHistory(ctx context.Context, executionID string) ([]RoutingLogRecord, error)
	GetRuleEffectivenessSummary(ctx context.Context, ruleID string) (RuleEffectivenessSummary, error)
	GenerateComplianceReport(ctx context.Context, from, to time.Time, filter *ComplianceReportFilter) (ComplianceReport, error)
}

// FromEvaluation adapts a riskrules.EvaluationRecord into the persisted
// shape, stamping the executionId and recordedAt that the engine itself
// does not (and should not) know about.
func FromEvaluation(executionID string, rec riskrules.EvaluationRecord, recordedAt time.Time) RuleEvaluationRecord {
	return RuleEvaluationRecord{
		ExecutionID:      executionID,
		RuleID:           rec.RuleID,
		RuleType:         rec.RuleType,
		StepName:         rec.StepName,
		Condition:        rec.Condition,
		ConditionResult:  rec.ConditionResult,
		RiskFactor:       rec.CalculatedRiskFactor,
		TriggeredAction:  string(rec.TriggeredAction),
		Message:          rec.Message,
		EvaluationTimeMs: rec.EvaluationTimeMs,
		Error:            rec.Error,
		RecordedAt:       recordedAt,
	}
}
