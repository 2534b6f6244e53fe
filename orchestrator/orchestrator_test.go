package orchestrator

import (
	"context"
	"testing"

	"github.com/sflowg-labs/deliverable-workflows/audit"
	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	"github.com/sflowg-labs/deliverable-workflows/streaming"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// staticCatalog is an in-memory WorkflowCatalog fixture for tests, rather
// than standing up a filesystem/Postgres store.
type staticCatalog struct {
	wf *workflow.WorkflowDefinition
}

func (c staticCatalog) Load(ctx context.Context, schemaKey, version string) (*workflow.WorkflowDefinition, error) {
	return c.wf, nil
}

// staticRiskStore is an in-memory RiskRulesStore fixture for tests.
type staticRiskStore struct {
	cfg *riskrules.Config
}

func (s staticRiskStore) Load(ctx context.Context, schemaKey string) (*riskrules.Config, error) {
	return s.cfg, nil
}

func countingExecutor(calls *int) workflow.StepExecutorFunc {
	return func(ctx context.Context, step workflow.Step, resolvedInput map[string]any) (any, error) {
		*calls++
		return map[string]any{"ok": true}, nil
	}
}

func twoStepWorkflow() *workflow.WorkflowDefinition {
	return &workflow.WorkflowDefinition{
		SchemaKey: "demo",
		Version:   "v1",
		Steps: []workflow.Step{
			{StepNumber: 1, StepName: "one", Kind: "noop", OutputVariable: "a",
				ErrorHandling: workflow.ErrorHandling{OnError: workflow.OnErrorFail}},
			{StepNumber: 2, StepName: "two", Kind: "noop", OutputVariable: "b",
				ErrorHandling: workflow.ErrorHandling{OnError: workflow.OnErrorFail}},
		},
	}
}

// ExecuteWorkflow with no risk rules configured should run every step and
// route to "continue" (spec.md §4.7's table: no triggered action, no
// exception override -> continue).
func TestExecuteWorkflow_NoRulesRunsAllStepsAndContinues(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: &riskrules.Config{}}, reg, streaming.NewManager(), audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{SchemaKey: "demo", Version: "v1", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected both steps to run, got %d calls", calls)
	}
	if resp.Status != workflow.StatusCompleted {
		t.Errorf("expected completed, got %v", resp.Status)
	}
	if resp.RoutingDecision != riskrules.RoutingContinue {
		t.Errorf("expected continue routing, got %v", resp.RoutingDecision)
	}
	if resp.RequiresHITL {
		t.Errorf("expected requiresHitl=false")
	}
}

// Scenario 4/global-block from spec.md §4.10 step 3: a global rule that
// triggers action=block must short-circuit before any step executes.
func TestExecuteWorkflow_GlobalBlockShortCircuits(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	cfg := &riskrules.Config{
		GlobalRules: []riskrules.GlobalRule{
			{RuleID: "g1", Condition: "$input.load > 1000", RiskFactor: 0.9, ActionIfTriggered: riskrules.ActionBlock, Enabled: true},
		},
	}
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: cfg}, reg, streaming.NewManager(), audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{
		SchemaKey: "demo", Version: "v1", Input: map[string]any{"load": 1500},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no step to run when blocked pre-execution, got %d calls", calls)
	}
	if resp.RoutingDecision != riskrules.RoutingBlock {
		t.Errorf("expected block routing, got %v", resp.RoutingDecision)
	}
	if !resp.RequiresHITL {
		t.Errorf("expected requiresHitl=true for a blocked run")
	}
	if resp.Status != workflow.StatusFailed {
		t.Errorf("expected status failed for a blocked run, got %v", resp.Status)
	}
}

// A global rule below block severity (e.g. require_review) must not
// short-circuit: every step still runs, and the final routing decision is
// resolved by evaluateWorkflow once the run completes.
func TestExecuteWorkflow_NonBlockGlobalRuleStillRunsSteps(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	cfg := &riskrules.Config{
		GlobalRules: []riskrules.GlobalRule{
			{RuleID: "g1", Condition: "$input.load > 1000", RiskFactor: 0.4, ActionIfTriggered: riskrules.ActionRequireReview, Enabled: true},
		},
	}
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: cfg}, reg, streaming.NewManager(), audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{
		SchemaKey: "demo", Version: "v1", Input: map[string]any{"load": 1500},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected both steps to run, got %d calls", calls)
	}
	if resp.RoutingDecision != riskrules.RoutingPause {
		t.Errorf("expected pause routing (require_review, no auto-approve exception), got %v", resp.RoutingDecision)
	}
	if !resp.RequiresHITL {
		t.Errorf("expected requiresHitl=true")
	}
}

// CancelExecution is idempotent and marks only the execution ID it is given
// as cancelled.
func TestCancelExecution_Idempotent(t *testing.T) {
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: &riskrules.Config{}}, workflow.Registry{}, streaming.NewManager(), audit.NewMemorySink(), nil)
	orch.CancelExecution("exec-1")
	orch.CancelExecution("exec-1")
	if !orch.cancelledFor("exec-1") {
		t.Errorf("expected exec-1 to be marked cancelled")
	}
	if orch.cancelledFor("exec-2") {
		t.Errorf("expected exec-2 to be unaffected")
	}
}

// A step rule's risk factor must be counted exactly once in finalRiskScore,
// not once during OnStepCompleted and again inside evaluateWorkflow. Two
// step rules each contributing 0.5 combine to 1.0 (clamped), not 1.5->1.0
// silently masking the bug; instead this asserts against an exception rule
// whose maxRiskOverride (0.6) sits strictly between the correct (0.5) and
// double-counted (1.0) totals, so a regression flips canAutoApprove back off.
func TestExecuteWorkflow_StepRiskNotDoubleCounted(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	cfg := &riskrules.Config{
		StepRules: []riskrules.StepRule{
			{RuleID: "s1", StepName: "one", Condition: "", RiskFactor: 0.5, ActionIfTriggered: riskrules.ActionRequireReview, Enabled: true},
		},
		ExceptionRules: []riskrules.ExceptionRule{
			{RuleID: "e1", Condition: "", AutoApproveOverride: true, MaxRiskOverride: 0.6, Enabled: true},
		},
	}
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: cfg}, reg, streaming.NewManager(), audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{SchemaKey: "demo", Version: "v1", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RoutingDecision != riskrules.RoutingApprove {
		t.Errorf("expected the exception rule's auto-approve override to hold (finalRiskScore 0.5 <= maxRiskOverride 0.6), got %v", resp.RoutingDecision)
	}
	if resp.RequiresHITL {
		t.Errorf("expected requiresHitl=false once auto-approved")
	}
}

// An escalation rule keyed on $assessment.safetyRisk only fires when
// ExecuteRequest.Assessment is threaded through every snapshot the risk
// engine evaluates against.
func TestExecuteWorkflow_AssessmentThreadedToEscalationRules(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	cfg := &riskrules.Config{
		EscalationRules: []riskrules.EscalationRule{
			{RuleID: "esc1", Condition: "$assessment.safetyRisk > 0.8", EscalationLevel: 3, Enabled: true},
		},
	}
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: cfg}, reg, streaming.NewManager(), audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{
		SchemaKey: "demo", Version: "v1", Input: map[string]any{},
		Assessment: riskrules.Assessment{SafetyRisk: 0.95},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RoutingDecision != riskrules.RoutingEscalate {
		t.Errorf("expected escalate routing once $assessment.safetyRisk clears the escalation rule's threshold, got %v", resp.RoutingDecision)
	}
	if resp.EscalationLevel == nil || *resp.EscalationLevel != 3 {
		t.Errorf("expected escalationLevel=3, got %v", resp.EscalationLevel)
	}
}

// StreamEvents subscribed after completion still replays the full buffered
// event sequence ending with execution_completed (spec.md §8 scenario 8).
func TestExecuteWorkflow_StreamReplaysAfterCompletion(t *testing.T) {
	calls := 0
	reg := workflow.Registry{"noop": countingExecutor(&calls)}
	streams := streaming.NewManager()
	orch := New(staticCatalog{wf: twoStepWorkflow()}, staticRiskStore{cfg: &riskrules.Config{}}, reg, streams, audit.NewMemorySink(), nil)

	resp, err := orch.ExecuteWorkflow(context.Background(), ExecuteRequest{SchemaKey: "demo", Version: "v1", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := orch.StreamEvents(resp.ExecutionID)
	defer sub.Close()

	var last streaming.StreamEvent
	for ev := range sub.Events {
		last = ev
	}
	if last.EventType != streaming.EventExecutionCompleted {
		t.Errorf("expected replay to end with execution_completed, got %v", last.EventType)
	}
}
