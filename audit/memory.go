package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySink is an in-process Sink, used for tests and as the default
// implementation when no relational store is configured. Writes are never
// dropped here (the "best-effort" contract is the orchestrator's concern,
// not this sink's).
type MemorySink struct {
	mu               sync.Mutex
	evaluations      []RuleEvaluationRecord
	routing          []RoutingLogRecord
	overrides        []HumanOverrideRecord
	decisions        []HumanDecisionRecord
	triggeredCount   map[string]int
	overriddenCount  map[string]int
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		triggeredCount:  make(map[string]int),
		overriddenCount: make(map[string]int),
	}
}

func (s *MemorySink) LogRuleEvaluation(ctx context.Context, rec RuleEvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Context = SanitizeMap(rec.Context)
	s.evaluations = append(s.evaluations, rec)
	if rec.ConditionResult {
		s.triggeredCount[rec.RuleID]++
	}
	return nil
}

func (s *MemorySink) LogRoutingDecision(ctx context.Context, rec RoutingLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routing = append(s.routing, rec)
	return nil
}

func (s *MemorySink) UpdateRuleEffectiveness(ctx context.Context, ruleID string, overridden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if overridden {
		s.overriddenCount[ruleID]++
	}
	return nil
}

func (s *MemorySink) RecordHumanOverride(ctx context.Context, rec HumanOverrideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = append(s.overrides, rec)
	return nil
}

func (s *MemorySink) RecordHumanDecision(ctx context.Context, rec HumanDecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *MemorySink) GetAuditTrail(ctx context.Context, executionID string) ([]RuleEvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RuleEvaluationRecord
	for _, r := range s.evaluations {
		if r.ExecutionID == executionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *MemorySink) GetRoutingHistory(ctx context.Context, executionID string) ([]RoutingLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoutingLogRecord
	for _, r := range s.routing {
		if r.ExecutionID == executionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *MemorySink) GetRuleEffectivenessSummary(ctx context.Context, ruleID string) (RuleEffectivenessSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	triggered := s.triggeredCount[ruleID]
	overridden := s.overriddenCount[ruleID]
	rate := 0.0
	if triggered > 0 {
		rate = float64(overridden) / float64(triggered)
	}
	return RuleEffectivenessSummary{
		RuleID:          ruleID,
		TimesTriggered:  triggered,
		TimesOverridden: overridden,
		OverrideRate:    rate,
	}, nil
}

func (s *MemorySink) GenerateComplianceReport(ctx context.Context, from, to time.Time, filter *ComplianceReportFilter) (ComplianceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := ComplianceReport{From: from, To: to, RoutingBreakdown: make(map[string]int)}
	execSeen := make(map[string]bool)

	for _, r := range s.evaluations {
		if r.RecordedAt.Before(from) || r.RecordedAt.After(to) {
			continue
		}
		if filter != nil && filter.RuleID != "" && r.RuleID != filter.RuleID {
			continue
		}
		report.TotalRuleEvaluations++
		execSeen[r.ExecutionID] = true
	}

	for _, r := range s.routing {
		if r.RecordedAt.Before(from) || r.RecordedAt.After(to) {
			continue
		}
		if filter != nil && filter.SchemaKey != "" && r.SchemaKey != filter.SchemaKey {
			continue
		}
		report.RoutingBreakdown[r.FinalRoutingDecision]++
		execSeen[r.ExecutionID] = true
	}
	report.TotalExecutions = len(execSeen)

	ruleIDs := make(map[string]bool)
	for id := range s.triggeredCount {
		ruleIDs[id] = true
	}
	var ids []string
	for id := range ruleIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		summary, _ := s.GetRuleEffectivenessSummaryLocked(id)
		report.RuleEffectiveness = append(report.RuleEffectiveness, summary)
	}
	return report, nil
}

// GetRuleEffectivenessSummaryLocked is the lock-already-held variant used
// internally by GenerateComplianceReport to avoid re-entrant locking.
func (s *MemorySink) GetRuleEffectivenessSummaryLocked(ruleID string) (RuleEffectivenessSummary, error) {
	triggered := s.triggeredCount[ruleID]
	overridden := s.overriddenCount[ruleID]
	rate := 0.0
	if triggered > 0 {
		rate = float64(overridden) / float64(triggered)
	}
	return RuleEffectivenessSummary{RuleID: ruleID, TimesTriggered: triggered, TimesOverridden: overridden, OverrideRate: rate}, nil
}

var _ Sink = (*MemorySink)(nil)
