package riskrules

import (
	"fmt"
	"strings"
	"time"

	"github.com/sflowg-labs/deliverable-workflows/condition"
)

// Engine evaluates a Config against execution-context snapshots. It holds no
// mutable state of its own (every method is pure given its arguments), so a
// single Engine value is safe to share across concurrent runs — matching the
// spec's requirement that evaluateGlobal be deterministic and pure.
type Engine struct{}

// NewEngine constructs a stateless risk rule engine.
func NewEngine() *Engine { return &Engine{} }

// Snapshot is the read-only view of a workflow's execution context that rule
// conditions evaluate against: the same three namespaces the condition
// package already understands (input/context/steps), plus the assessment
// vector exposed under $assessment.*.
type Snapshot struct {
	Input      map[string]any
	Context    map[string]any
	Steps      map[string]any
	Assessment Assessment
}

func (s Snapshot) conditionCtx() *condition.Context {
	return &condition.Context{
		Input: s.Input,
		Ctx:   s.Context,
		Steps: s.Steps,
		Extra: map[string]condition.ExtraResolver{
			"assessment": func(path []string) (any, bool) {
				if len(path) != 1 {
					return nil, false
				}
				return s.Assessment.field(path[0])
			},
		},
	}
}

// evalRule parses and evaluates one rule's condition, recording the
// evaluation as an EvaluationRecord regardless of outcome. Parser/evaluator
// errors never propagate — they are recorded with conditionResult=false and
// the error text in Message, per spec.md §4.1/§4.7/§7.
func evalRule(ruleID, ruleType, stepName, cond string, snap Snapshot) EvaluationRecord {
	start := time.Now()
	rec := EvaluationRecord{RuleID: ruleID, RuleType: ruleType, StepName: stepName, Condition: cond}

	result, err := condition.Eval(cond, snap.conditionCtx())
	rec.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		rec.ConditionResult = false
		rec.Error = err.Error()
		return rec
	}
	rec.ConditionResult = result
	return rec
}

// aggregate computes the aggregateRiskFactor and highestAction over a set of
// records that triggered (per spec.md §4.7's "Aggregation rules within an
// evaluation call").
func aggregate(records []EvaluationRecord) (risk float64, highest Action) {
	for _, r := range records {
		if !r.ConditionResult || r.CalculatedRiskFactor == nil {
			continue
		}
		risk += *r.CalculatedRiskFactor
		if r.TriggeredAction.Priority() > highest.Priority() {
			highest = r.TriggeredAction
		}
	}
	if risk > 1.0 {
		risk = 1.0
	}
	return risk, highest
}

// EvaluateGlobal evaluates every enabled global rule once (spec.md §4.7 #1).
func (e *Engine) EvaluateGlobal(cfg *Config, snap Snapshot) StepEvaluationResult {
	var records []EvaluationRecord
	for _, r := range cfg.GlobalRules {
		if !r.Enabled {
			continue
		}
		rec := evalRule(r.RuleID, "global", "", r.Condition, snap)
		if rec.ConditionResult {
			rf := r.RiskFactor
			rec.CalculatedRiskFactor = &rf
			rec.TriggeredAction = r.ActionIfTriggered
			rec.Message = r.Message
		}
		records = append(records, rec)
	}

	risk, highest := aggregate(records)
	return StepEvaluationResult{
		StepNumber:      0,
		StepName:        "global",
		Records:         records,
		AggregateRisk:   risk,
		HighestAction:   highest,
		RoutingDecision: highest.Decision(),
	}
}

// EvaluateStepRules evaluates the enabled step rules attached to stepName
// (spec.md §4.7 #2).
func (e *Engine) EvaluateStepRules(stepNumber int, stepName string, cfg *Config, snap Snapshot) StepEvaluationResult {
	var records []EvaluationRecord
	for _, r := range cfg.StepRules {
		if !r.Enabled || r.StepName != stepName {
			continue
		}
		rec := evalRule(r.RuleID, "step", stepName, r.Condition, snap)
		if rec.ConditionResult {
			rf := r.RiskFactor
			rec.CalculatedRiskFactor = &rf
			rec.TriggeredAction = r.ActionIfTriggered
			rec.Message = r.Message
		}
		records = append(records, rec)
	}

	risk, highest := aggregate(records)
	return StepEvaluationResult{
		StepNumber:      stepNumber,
		StepName:        stepName,
		Records:         records,
		AggregateRisk:   risk,
		HighestAction:   highest,
		RoutingDecision: highest.Decision(),
	}
}

// EvaluateExceptionRules returns (canAutoApprove, maxRiskOverride, triggered)
// per spec.md §4.7 #3.
func (e *Engine) EvaluateExceptionRules(currentRiskScore float64, cfg *Config, snap Snapshot) (canAutoApprove bool, maxRiskOverride float64, triggered []EvaluationRecord) {
	for _, r := range cfg.ExceptionRules {
		if !r.Enabled {
			continue
		}
		rec := evalRule(r.RuleID, "exception", "", r.Condition, snap)
		if rec.ConditionResult {
			rec.Message = r.Message
			triggered = append(triggered, rec)
			if r.AutoApproveOverride {
				canAutoApprove = true
				if r.MaxRiskOverride > maxRiskOverride {
					maxRiskOverride = r.MaxRiskOverride
				}
			}
		}
	}
	if canAutoApprove && currentRiskScore > maxRiskOverride {
		canAutoApprove = false
	}
	return canAutoApprove, maxRiskOverride, triggered
}

// EvaluateEscalationRules returns the maximum escalationLevel among triggered
// enabled escalation rules (nil if none triggered), plus the triggered set
// (spec.md §4.7 #4).
func (e *Engine) EvaluateEscalationRules(cfg *Config, snap Snapshot) (level *int, triggered []EvaluationRecord) {
	max := -1
	for _, r := range cfg.EscalationRules {
		if !r.Enabled {
			continue
		}
		rec := evalRule(r.RuleID, "escalation", "", r.Condition, snap)
		if rec.ConditionResult {
			rec.Message = r.Message
			triggered = append(triggered, rec)
			if r.EscalationLevel > max {
				max = r.EscalationLevel
			}
		}
	}
	if max < 0 {
		return nil, triggered
	}
	return &max, triggered
}

// StepOutcome is the minimal per-step input EvaluateWorkflow needs: the
// caller (the workflow/orchestrator packages) supplies one per completed
// step, decoupling this package from workflow.StepResult.
type StepOutcome struct {
	StepNumber int
	StepName   string
}

// EvaluateWorkflow runs the end-of-run decision procedure (spec.md §4.7).
func (e *Engine) EvaluateWorkflow(executionID string, cfg *Config, snap Snapshot, stepResults []StepOutcome, baseRiskScore float64) WorkflowEvaluationResult {
	global := e.EvaluateGlobal(cfg, snap)

	combinedRisk := baseRiskScore + global.AggregateRisk
	highest := global.HighestAction

	var stepEvals []StepEvaluationResult
	for _, sr := range stepResults {
		se := e.EvaluateStepRules(sr.StepNumber, sr.StepName, cfg, snap)
		stepEvals = append(stepEvals, se)
		combinedRisk += se.AggregateRisk
		if se.HighestAction.Priority() > highest.Priority() {
			highest = se.HighestAction
		}
	}
	if combinedRisk > 1.0 {
		combinedRisk = 1.0
	}

	canAutoApprove, _, exceptionTriggered := e.EvaluateExceptionRules(combinedRisk, cfg, snap)
	escalationLevel, escalationTriggered := e.EvaluateEscalationRules(cfg, snap)

	decision, requiresHitl := resolveRouting(highest, escalationLevel != nil, canAutoApprove)

	return WorkflowEvaluationResult{
		ExecutionID:          executionID,
		Global:               global,
		Steps:                stepEvals,
		ExceptionTriggered:   exceptionTriggered,
		CanAutoApprove:       canAutoApprove,
		EscalationTriggered:  escalationTriggered,
		EscalationLevel:      escalationLevel,
		FinalRiskScore:       combinedRisk,
		FinalRoutingDecision: decision,
		RequiresHITL:         requiresHitl,
		SummaryMessage:       summarize(decision, highest, combinedRisk, escalationLevel),
	}
}

// resolveRouting implements the precedence table in spec.md §4.7 step 6.
func resolveRouting(highest Action, anyEscalation, canAutoApprove bool) (RoutingDecision, bool) {
	switch {
	case highest == ActionBlock:
		return RoutingBlock, true
	case anyEscalation:
		return RoutingEscalate, true
	case highest == ActionRequireHITL || highest == ActionEscalate:
		return RoutingPause, true
	case highest == ActionPause:
		return RoutingPause, true
	case highest == ActionRequireReview:
		if canAutoApprove {
			return RoutingApprove, false
		}
		return RoutingPause, true
	case canAutoApprove:
		return RoutingApprove, false
	default:
		return RoutingContinue, false
	}
}

func summarize(decision RoutingDecision, highest Action, risk float64, escalationLevel *int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "routing=%s highestAction=%s finalRisk=%.3f", decision, highest, risk)
	if escalationLevel != nil {
		fmt.Fprintf(&b, " escalationLevel=%d", *escalationLevel)
	}
	return b.String()
}
