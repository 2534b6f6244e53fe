// Package orchestrator implements the Workflow Orchestrator (component J):
// the top-level request handler tying the Condition Evaluator, Validation
// Engine, Risk Rule Engine, Parallel Executor, Streaming Manager, and Audit
// Sink together per spec.md §4.10. Grounded on runtime/app.go's
// Initialize → LoadFlows → (HTTP registration) → graceful-shutdown shape
// and runtime/http_handler.go's per-request Execution lifecycle, adapted
// from "one flow, one sequential step list" to "one workflow schema
// version, a DAG of steps, and a risk-gated routing decision."
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sflowg-labs/deliverable-workflows/audit"
	"github.com/sflowg-labs/deliverable-workflows/metrics"
	"github.com/sflowg-labs/deliverable-workflows/notify"
	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	"github.com/sflowg-labs/deliverable-workflows/streaming"
	"github.com/sflowg-labs/deliverable-workflows/validation"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// WorkflowCatalog loads a versioned WorkflowDefinition by schema key
// (spec.md §6 "Persistence ports").
type WorkflowCatalog interface {
	Load(ctx context.Context, schemaKey, version string) (*workflow.WorkflowDefinition, error)
}

// RiskRulesStore loads a schema's risk rules document.
type RiskRulesStore interface {
	Load(ctx context.Context, schemaKey string) (*riskrules.Config, error)
}

// ExecuteRequest is executeWorkflow's input (spec.md §6).
type ExecuteRequest struct {
	SchemaKey string
	Version   string
	Input     map[string]any
	Context   map[string]any

	// Assessment is the caller-supplied risk vector exposed to rule
	// conditions as $assessment.* (spec.md §4.7). Zero value if the caller
	// has no independent risk assessment for this run.
	Assessment riskrules.Assessment
}

// ExecuteResponse is executeWorkflow's output (spec.md §6).
type ExecuteResponse struct {
	ExecutionID      string                         `json:"executionId"`
	Status           workflow.Status                `json:"status"`
	Output           map[string]any                 `json:"output,omitempty"`
	RoutingDecision  riskrules.RoutingDecision       `json:"routingDecision"`
	RequiresHITL     bool                            `json:"requiresHitl"`
	EscalationLevel  *int                            `json:"escalationLevel,omitempty"`
	StepResults      []workflow.StepResult           `json:"stepResults"`
	Summary          string                          `json:"summary"`
	ProcessingTimeMs float64                          `json:"processingTimeMs"`
}

// Orchestrator is the Workflow Orchestrator (component J).
type Orchestrator struct {
	catalog    WorkflowCatalog
	riskStore  RiskRulesStore
	registry   workflow.Registry
	streams    *streaming.Manager
	sink       audit.Sink
	riskEngine *riskrules.Engine
	logger     *slog.Logger
	notifier   notify.HITLNotifier
	metrics    *metrics.Collector

	mu         sync.Mutex
	cancelled  map[string]bool
}

// SetHITLNotifier registers an optional notifier invoked whenever a
// workflow's final routing decision requires human review. Unset by
// default (no-op) — construction via New never requires one.
func (o *Orchestrator) SetHITLNotifier(n notify.HITLNotifier) {
	o.notifier = n
}

// SetMetricsCollector registers an optional Prometheus collector. Unset by
// default (no-op).
func (o *Orchestrator) SetMetricsCollector(c *metrics.Collector) {
	o.metrics = c
}

func (o *Orchestrator) notifyIfRequired(ctx context.Context, executionID, schemaKey string, eval riskrules.WorkflowEvaluationResult) {
	if o.notifier == nil || !eval.RequiresHITL {
		return
	}
	if err := o.notifier.NotifyRequiresReview(ctx, executionID, schemaKey, eval); err != nil {
		o.logger.Error("hitl notification failed", "executionId", executionID, "error", err)
	}
}

// New constructs an Orchestrator. registry supplies the StepExecutor
// implementations dispatched by Step.Kind; when logger is nil, slog.Default()
// is used.
func New(catalog WorkflowCatalog, riskStore RiskRulesStore, registry workflow.Registry, streams *streaming.Manager, sink audit.Sink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog:    catalog,
		riskStore:  riskStore,
		registry:   registry,
		streams:    streams,
		sink:       sink,
		riskEngine: riskrules.NewEngine(),
		logger:     logger,
		cancelled:  make(map[string]bool),
	}
}

// ExecuteWorkflow runs the full §4.10 procedure.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()
	executionID := uuid.NewString()

	wf, err := o.catalog.Load(ctx, req.SchemaKey, req.Version)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load workflow %s/%s: %w", req.SchemaKey, req.Version, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid workflow definition: %w", err)
	}

	if wf.InputSchema != nil {
		res := validation.Validate(wf.InputSchema, req.Input, validation.Strict)
		if !res.Valid() {
			return nil, fmt.Errorf("orchestrator: input validation failed: %v", res.Issues)
		}
	}

	rulesCfg := wf.RiskRules
	if rulesCfg == nil && o.riskStore != nil {
		rulesCfg, err = o.riskStore.Load(ctx, req.SchemaKey)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load risk rules for %s: %w", req.SchemaKey, err)
		}
	}
	if rulesCfg == nil {
		rulesCfg = &riskrules.Config{}
	}

	ec := workflow.NewExecutionContext(req.Input, req.Context, len(wf.Steps))
	globalSnap := riskrules.Snapshot{Input: req.Input, Context: req.Context, Assessment: req.Assessment}
	global := o.riskEngine.EvaluateGlobal(rulesCfg, globalSnap)
	o.logRuleEvaluations(ctx, executionID, global.Records)

	if global.RoutingDecision == riskrules.RoutingBlock {
		resp := &ExecuteResponse{
			ExecutionID:      executionID,
			Status:           workflow.StatusFailed,
			RoutingDecision:  riskrules.RoutingBlock,
			RequiresHITL:     true,
			Summary:          "blocked by global risk rule before any step executed",
			ProcessingTimeMs: msSince(start),
		}
		o.logRouting(ctx, executionID, req, rulesCfg, global.AggregateRisk, resp)
		o.notifyIfRequired(ctx, executionID, req.SchemaKey, riskrules.WorkflowEvaluationResult{
			FinalRiskScore:       global.AggregateRisk,
			FinalRoutingDecision: riskrules.RoutingBlock,
			RequiresHITL:         true,
			SummaryMessage:       resp.Summary,
		})
		if o.metrics != nil {
			o.metrics.RecordExecution(string(workflow.StatusFailed), time.Since(start))
			o.metrics.RecordRoutingDecision(string(riskrules.RoutingBlock))
		}
		return resp, nil
	}

	if o.streams != nil {
		o.streams.Broadcast(executionID, streaming.StreamEvent{EventType: streaming.EventExecutionStarted})
	}

	var mu sync.Mutex
	var stepOutcomes []riskrules.StepOutcome

	opts := workflow.RunOptions{
		Parallel: true,
		OnEvent: func(eventType string, data map[string]any) {
			if o.streams != nil {
				o.streams.Broadcast(executionID, streaming.StreamEvent{EventType: streaming.EventType(eventType), Data: data})
			}
		},
		OnStepCompleted: func(result workflow.StepResult, stepEC *workflow.ExecutionContext) {
			snap := stepEC.Snapshot()
			se := o.riskEngine.EvaluateStepRules(result.StepNumber, result.StepName, rulesCfg, riskrules.Snapshot{
				Input: snap.Input, Context: snap.Ctx, Steps: snap.Steps, Assessment: req.Assessment,
			})
			o.logRuleEvaluations(ctx, executionID, se.Records)

			mu.Lock()
			stepOutcomes = append(stepOutcomes, riskrules.StepOutcome{StepNumber: result.StepNumber, StepName: result.StepName})
			mu.Unlock()

			if o.metrics != nil {
				o.metrics.RecordStep(result.StepName, string(result.Status), result.CompletedAt.Sub(result.StartedAt))
				if result.RetryMetadata != nil && result.RetryMetadata.Attempts > 0 {
					o.metrics.RecordRetry(result.StepName)
				}
			}

			if se.RoutingDecision == riskrules.RoutingBlock {
				stepEC.Cancel()
			}
			if o.cancelledFor(executionID) {
				stepEC.Cancel()
			}
		},
	}

	execExec := workflow.NewExecutor(o.registry)
	result, err := execExec.Run(ctx, wf, ec, opts)
	if err != nil {
		if o.streams != nil {
			o.streams.Broadcast(executionID, streaming.StreamEvent{EventType: streaming.EventExecutionFailed, Data: map[string]any{"error": err.Error()}})
		}
		return nil, fmt.Errorf("orchestrator: execution failed: %w", err)
	}

	finalSnap := ec.Snapshot()
	// baseRiskScore is 0: EvaluateWorkflow re-evaluates every step's rules
	// itself and sums their aggregate risk (plus the global evaluation) into
	// combinedRisk, so stepOutcomes supplies only the (stepNumber, stepName)
	// identifiers — passing anything already step-risk-derived here would
	// double-count those factors (spec.md §4.7 step 2).
	workflowEval := o.riskEngine.EvaluateWorkflow(executionID, rulesCfg, riskrules.Snapshot{
		Input: finalSnap.Input, Context: finalSnap.Ctx, Steps: finalSnap.Steps, Assessment: req.Assessment,
	}, stepOutcomes, 0)

	o.logRuleEvaluations(ctx, executionID, workflowEval.ExceptionTriggered)
	o.logRuleEvaluations(ctx, executionID, workflowEval.EscalationTriggered)
	o.logRoutingResult(ctx, executionID, req, workflowEval)
	o.notifyIfRequired(ctx, executionID, req.SchemaKey, workflowEval)

	status := result.Status
	if o.metrics != nil {
		o.metrics.RecordExecution(string(status), time.Since(start))
		o.metrics.RecordRoutingDecision(string(workflowEval.FinalRoutingDecision))
	}
	terminalEvent := streaming.EventExecutionCompleted
	if status == workflow.StatusFailed {
		terminalEvent = streaming.EventExecutionFailed
	}
	if o.streams != nil {
		o.streams.Broadcast(executionID, streaming.StreamEvent{EventType: terminalEvent})
	}

	resp := &ExecuteResponse{
		ExecutionID:      executionID,
		Status:           status,
		Output:           finalSnap.Steps,
		RoutingDecision:  workflowEval.FinalRoutingDecision,
		RequiresHITL:     workflowEval.RequiresHITL,
		EscalationLevel:  workflowEval.EscalationLevel,
		StepResults:      result.StepResults,
		Summary:          workflowEval.SummaryMessage,
		ProcessingTimeMs: msSince(start),
	}
	return resp, nil
}

// StreamEvents subscribes to executionID's stream (spec.md §6 "streamEvents").
func (o *Orchestrator) StreamEvents(executionID string) *streaming.Subscription {
	return o.streams.Subscribe(executionID)
}

// CancelExecution marks executionID cancelled (spec.md §6 "cancelExecution",
// idempotent). The next OnStepCompleted callback observes the flag and
// cancels the ExecutionContext cooperatively.
func (o *Orchestrator) CancelExecution(executionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled[executionID] = true
}

func (o *Orchestrator) cancelledFor(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[executionID]
}

func (o *Orchestrator) logRuleEvaluations(ctx context.Context, executionID string, records []riskrules.EvaluationRecord) {
	if o.sink == nil {
		return
	}
	now := time.Now()
	for _, rec := range records {
		if err := o.sink.LogRuleEvaluation(ctx, audit.FromEvaluation(executionID, rec, now)); err != nil {
			o.logger.Error("audit write failed", "executionId", executionID, "ruleId", rec.RuleID, "error", err)
		}
	}
}

func (o *Orchestrator) logRouting(ctx context.Context, executionID string, req ExecuteRequest, cfg *riskrules.Config, risk float64, resp *ExecuteResponse) {
	if o.sink == nil {
		return
	}
	rec := audit.RoutingLogRecord{
		ExecutionID:          executionID,
		SchemaKey:            req.SchemaKey,
		Version:              req.Version,
		FinalRiskScore:       risk,
		FinalRoutingDecision: string(resp.RoutingDecision),
		RequiresHITL:         resp.RequiresHITL,
		SummaryMessage:       resp.Summary,
		RecordedAt:           time.Now(),
	}
	if err := o.sink.LogRoutingDecision(ctx, rec); err != nil {
		o.logger.Error("audit routing write failed", "executionId", executionID, "error", err)
	}
}

func (o *Orchestrator) logRoutingResult(ctx context.Context, executionID string, req ExecuteRequest, eval riskrules.WorkflowEvaluationResult) {
	if o.sink == nil {
		return
	}
	rec := audit.RoutingLogRecord{
		ExecutionID:          executionID,
		SchemaKey:            req.SchemaKey,
		Version:              req.Version,
		FinalRiskScore:       eval.FinalRiskScore,
		FinalRoutingDecision: string(eval.FinalRoutingDecision),
		RequiresHITL:         eval.RequiresHITL,
		EscalationLevel:      eval.EscalationLevel,
		SummaryMessage:       eval.SummaryMessage,
		RecordedAt:           time.Now(),
	}
	if err := o.sink.LogRoutingDecision(ctx, rec); err != nil {
		o.logger.Error("audit routing write failed", "executionId", executionID, "error", err)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
