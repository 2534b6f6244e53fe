package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemorySinkAuditTrailOrderedByTime(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	base := time.Now()

	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e1", RuleID: "r2", RecordedAt: base.Add(2 * time.Second)})
	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e1", RuleID: "r1", RecordedAt: base})
	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e2", RuleID: "r3", RecordedAt: base})

	trail, err := s.GetAuditTrail(ctx, "e1")
	if err != nil {
		t.Fatalf("GetAuditTrail: %v", err)
	}
	if len(trail) != 2 || trail[0].RuleID != "r1" || trail[1].RuleID != "r2" {
		t.Fatalf("expected [r1, r2] in time order, got %+v", trail)
	}
}

func TestMemorySinkRuleEffectivenessTracksOverrides(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e1", RuleID: "r1", ConditionResult: true})
	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e2", RuleID: "r1", ConditionResult: true})
	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{ExecutionID: "e3", RuleID: "r1", ConditionResult: false})
	s.UpdateRuleEffectiveness(ctx, "r1", true)

	summary, err := s.GetRuleEffectivenessSummary(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRuleEffectivenessSummary: %v", err)
	}
	if summary.TimesTriggered != 2 {
		t.Errorf("expected 2 triggers (conditionResult=false doesn't count), got %d", summary.TimesTriggered)
	}
	if summary.TimesOverridden != 1 {
		t.Errorf("expected 1 override, got %d", summary.TimesOverridden)
	}
	if summary.OverrideRate != 0.5 {
		t.Errorf("expected override rate 0.5, got %f", summary.OverrideRate)
	}
}

func TestMemorySinkComplianceReportFiltersByWindow(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	now := time.Now()

	s.LogRoutingDecision(ctx, RoutingLogRecord{ExecutionID: "e1", SchemaKey: "wf-a", FinalRoutingDecision: "approve", RecordedAt: now})
	s.LogRoutingDecision(ctx, RoutingLogRecord{ExecutionID: "e2", SchemaKey: "wf-a", FinalRoutingDecision: "block", RecordedAt: now.Add(-48 * time.Hour)})

	report, err := s.GenerateComplianceReport(ctx, now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("GenerateComplianceReport: %v", err)
	}
	if report.TotalExecutions != 1 {
		t.Errorf("expected 1 execution in window, got %d", report.TotalExecutions)
	}
	if report.RoutingBreakdown["approve"] != 1 || report.RoutingBreakdown["block"] != 0 {
		t.Errorf("unexpected routing breakdown: %+v", report.RoutingBreakdown)
	}
}

func TestMemorySinkSanitizesContextOnWrite(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	long := make([]byte, maxStringBytes+50)
	for i := range long {
		long[i] = 'x'
	}

	s.LogRuleEvaluation(ctx, RuleEvaluationRecord{
		ExecutionID: "e1",
		RuleID:      "r1",
		Context:     map[string]any{"payload": string(long)},
	})

	trail, _ := s.GetAuditTrail(ctx, "e1")
	got, _ := trail[0].Context["payload"].(string)
	if len(got) <= maxStringBytes || !strings.Contains(got, "...<truncated, ") {
		t.Fatalf("expected stored context to be sanitized/truncated, got len %d", len(got))
	}
}
