package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sflowg-labs/deliverable-workflows/depgraph"
	"github.com/sflowg-labs/deliverable-workflows/retry"
	"github.com/sflowg-labs/deliverable-workflows/timeoutpolicy"
	"github.com/sflowg-labs/deliverable-workflows/validation"
	"github.com/sflowg-labs/deliverable-workflows/wferrors"

	"github.com/sflowg-labs/deliverable-workflows/condition"
)

// speedupEfficiency is the documented cosmetic estimate from spec.md §4.8 —
// the speedup number is for UI/estimation only, never a measurement.
const speedupEfficiency = 0.7

// StepExecutor is the port every calculation engine, LLM adapter, or domain
// analyzer implements (spec.md §6). The core dispatches by Step.Kind and
// never inspects an implementation's internals.
type StepExecutor interface {
	Execute(ctx context.Context, step Step, resolvedInput map[string]any) (any, error)
}

// StepExecutorFunc adapts a plain function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step Step, resolvedInput map[string]any) (any, error)

func (f StepExecutorFunc) Execute(ctx context.Context, step Step, resolvedInput map[string]any) (any, error) {
	return f(ctx, step, resolvedInput)
}

// Registry dispatches by Step.Kind to the StepExecutor that implements it
// (design note: "replace source-language class hierarchies with an
// interface plus a registry from kind string to implementation").
type Registry map[string]StepExecutor

// EventFunc receives one stream event emitted during a run. The streaming
// package's Manager.Broadcast satisfies this signature via a thin adapter,
// keeping this package free of a dependency on streaming.
type EventFunc func(eventType string, data map[string]any)

// StepCompletedFunc is invoked once per step, after its outcome has been
// merged into the ExecutionContext (post-wave, in step-number order). The
// Workflow Orchestrator uses this hook to run per-step risk rule evaluation
// (spec.md §4.10 step 6) without the executor needing to know about
// riskrules.
type StepCompletedFunc func(result StepResult, ec *ExecutionContext)

// RunOptions configures one Executor.Run call.
type RunOptions struct {
	// Parallel defaults to true. false runs strict step-number sequential
	// execution (debugging mode, spec.md §4.8).
	Parallel bool
	OnEvent  EventFunc
	OnStepCompleted StepCompletedFunc
}

// Executor is the Parallel Executor (component H).
type Executor struct {
	registry Registry
}

// NewExecutor constructs an Executor dispatching to the given registry.
func NewExecutor(registry Registry) *Executor {
	return &Executor{registry: registry}
}

// Run executes wf.Steps against ec with maximum safe parallelism (spec.md
// §4.8). Structural errors (forward references, cycles) are returned
// immediately and do not run any step.
func (ex *Executor) Run(ctx context.Context, wf *WorkflowDefinition, ec *ExecutionContext, opts RunOptions) (*ParallelExecutionResult, error) {
	start := time.Now()

	refs := make([]depgraph.StepRef, len(wf.Steps))
	for i, s := range wf.Steps {
		refs[i] = depgraph.StepRef{StepNumber: s.StepNumber, Exprs: s.exprs()}
	}
	graph, err := depgraph.Build(refs)
	if err != nil {
		return nil, err
	}
	waves, err := graph.Waves()
	if err != nil {
		return nil, err
	}
	if !opts.Parallel {
		waves = flatten(waves)
	}

	byNumber := wf.StepByNumber()
	results := make(map[int]StepResult, len(wf.Steps))
	var cancelledAtStep *int

waveLoop:
	for _, wave := range waves {
		snap := ec.Snapshot()
		waveResults := ex.runWave(ctx, wave, byNumber, ec, snap, opts)

		sort.Slice(waveResults, func(i, j int) bool { return waveResults[i].StepNumber < waveResults[j].StepNumber })
		for _, r := range waveResults {
			step := byNumber[r.StepNumber]
			if r.Status == StatusCompleted {
				ec.SetStepOutput(step.OutputVariable, r.OutputData)
			}
			results[r.StepNumber] = r
			if opts.OnStepCompleted != nil {
				opts.OnStepCompleted(r, ec)
			}
			completed, total := ec.IncrementCompleted()
			emit(opts.OnEvent, "progress_update", map[string]any{"completed": completed, "total": total, "stepNumber": r.StepNumber})

			if r.Status == StatusFailed && step.ErrorHandling.OnError == OnErrorFail {
				n := r.StepNumber
				cancelledAtStep = &n
				ec.Cancel()
			}
		}

		if ec.Cancelled() {
			break waveLoop
		}
	}

	// Steps never reached (later waves, when cancelled) are reported skipped.
	for _, s := range wf.Steps {
		if _, ok := results[s.StepNumber]; !ok {
			results[s.StepNumber] = StepResult{StepNumber: s.StepNumber, StepName: s.StepName, Status: StatusSkipped}
		}
	}

	ordered := make([]StepResult, 0, len(results))
	for _, s := range wf.Steps {
		ordered = append(ordered, results[s.StepNumber])
	}

	status := StatusCompleted
	errMsg := ""
	if cancelledAtStep != nil {
		status = StatusFailed
		errMsg = fmt.Sprintf("step %d failed with onError=fail; run cancelled", *cancelledAtStep)
	}

	cpLen := len(graph.CriticalPath())
	speedup := 1.0
	if cpLen > 0 {
		speedup = float64(len(wf.Steps)) / float64(cpLen) * speedupEfficiency
		speedup += (1 - speedupEfficiency)
	}

	return &ParallelExecutionResult{
		Status:           status,
		StepResults:      ordered,
		ExecutionContext: ec,
		TotalTimeMs:      float64(time.Since(start).Microseconds()) / 1000.0,
		ParallelSpeedup:  speedup,
		ErrorMessage:     errMsg,
		CancelledAtStep:  cancelledAtStep,
	}, nil
}

// flatten turns topological waves into N waves of size 1, in step-number
// order, for the enableParallel=false debugging mode.
func flatten(waves [][]int) [][]int {
	var all []int
	for _, w := range waves {
		all = append(all, w...)
	}
	sort.Ints(all)
	out := make([][]int, len(all))
	for i, n := range all {
		out[i] = []int{n}
	}
	return out
}

// runWave launches one concurrent task per step in the wave and joins them.
// A wave of size 1 runs inline (no concurrency cost, per spec.md §4.8).
func (ex *Executor) runWave(ctx context.Context, wave []int, byNumber map[int]Step, ec *ExecutionContext, snap *condition.Context, opts RunOptions) []StepResult {
	if len(wave) == 1 {
		return []StepResult{ex.runStep(ctx, byNumber[wave[0]], ec, snap, opts)}
	}

	results := make([]StepResult, len(wave))
	var wg sync.WaitGroup
	wg.Add(len(wave))
	for i, n := range wave {
		go func(i, n int) {
			defer wg.Done()
			results[i] = ex.runStep(ctx, byNumber[n], ec, snap, opts)
		}(i, n)
	}
	wg.Wait()
	return results
}

// runStep is the per-step life cycle (spec.md §4.8).
func (ex *Executor) runStep(ctx context.Context, step Step, ec *ExecutionContext, snap *condition.Context, opts RunOptions) StepResult {
	started := time.Now()

	if ec.Cancelled() {
		return StepResult{StepNumber: step.StepNumber, StepName: step.StepName, Status: StatusSkipped, StartedAt: started, CompletedAt: started}
	}

	ok, err := condition.Eval(step.Condition, snap)
	if err != nil {
		emit(opts.OnEvent, "log", map[string]any{"stepNumber": step.StepNumber, "message": "condition error treated as false: " + err.Error()})
		ok = false
	}
	if !ok {
		emit(opts.OnEvent, "step_skipped", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName})
		return StepResult{StepNumber: step.StepNumber, StepName: step.StepName, Status: StatusSkipped, StartedAt: started, CompletedAt: time.Now()}
	}

	emit(opts.OnEvent, "step_started", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName})

	resolved, err := ResolveInputMapping(step.InputMapping, ec.Input(), ec.Context(), snap.Steps)
	if err != nil {
		return ex.fail(step, started, wferrors.New(wferrors.Permanent, wferrors.CodeUnresolvedVariable, step.StepName, err), nil)
	}

	if step.InputSchema != nil {
		res := validation.Validate(step.InputSchema, resolved, validation.Strict)
		if !res.Valid() {
			return ex.fail(step, started, wferrors.New(wferrors.Permanent, wferrors.CodeValidationFailed, step.StepName, fmt.Errorf("input validation failed: %v", res.Issues)), nil)
		}
	}

	executor, ok := ex.registry[step.Kind]
	if !ok {
		return ex.fail(step, started, wferrors.New(wferrors.Permanent, wferrors.CodeRuntimeError, step.StepName, fmt.Errorf("no step executor registered for kind %q", step.Kind)), nil)
	}

	timeout := time.Duration(step.ErrorHandling.TimeoutSec * float64(time.Second))
	retryCfg := step.ErrorHandling.RetryConfig()

	value, meta, rerr := retry.Do(ctx, retryCfg, func(attemptCtx context.Context, attempt int) (any, error) {
		tr := timeoutpolicy.Run(attemptCtx, timeoutpolicy.Policy{Timeout: timeout, Strategy: timeoutpolicy.Fail}, func(tctx context.Context) (any, error) {
			return executor.Execute(tctx, step, resolved)
		})
		if tr.Status == timeoutpolicy.StatusFailed {
			return nil, tr.Err
		}
		return tr.Value, nil
	})

	if rerr != nil {
		return ex.handleFailure(step, started, rerr, meta, opts)
	}

	if step.OutputSchema != nil {
		res := validation.Validate(step.OutputSchema, value, validation.Lax)
		if !res.Valid() {
			emit(opts.OnEvent, "log", map[string]any{"stepNumber": step.StepNumber, "message": fmt.Sprintf("output validation warnings: %v", res.Issues)})
		}
	}

	emit(opts.OnEvent, "step_completed", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName})
	return StepResult{
		StepNumber:    step.StepNumber,
		StepName:      step.StepName,
		Status:        StatusCompleted,
		OutputData:    value,
		RetryMetadata: toRetryMetadata(meta),
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
}

// handleFailure applies errorHandling.onError once retries are exhausted
// (spec.md §4.8 step 6): fail propagates (the wave loop cancels the run
// after the wave joins) and reports a failed result, skip proceeds and
// reports a skipped result without cancelling, fallback substitutes
// fallbackValue and reports completed.
func (ex *Executor) handleFailure(step Step, started time.Time, rerr error, meta *retry.Metadata, opts RunOptions) StepResult {
	switch step.ErrorHandling.OnError {
	case OnErrorFallback:
		emit(opts.OnEvent, "step_completed", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName, "fallback": true})
		return StepResult{
			StepNumber:    step.StepNumber,
			StepName:      step.StepName,
			Status:        StatusCompleted,
			OutputData:    step.ErrorHandling.FallbackValue,
			RetryMetadata: toRetryMetadata(meta),
			StartedAt:     started,
			CompletedAt:   time.Now(),
		}
	case OnErrorSkip:
		emit(opts.OnEvent, "step_skipped", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName, "error": rerr.Error()})
		return StepResult{
			StepNumber:    step.StepNumber,
			StepName:      step.StepName,
			Status:        StatusSkipped,
			ErrorMessage:  rerr.Error(),
			RetryMetadata: toRetryMetadata(meta),
			StartedAt:     started,
			CompletedAt:   time.Now(),
		}
	default: // fail — reports a failed result; cancels the run once the
		// wave joins (handled by the caller).
		emit(opts.OnEvent, "step_failed", map[string]any{"stepNumber": step.StepNumber, "stepName": step.StepName, "error": rerr.Error()})
		return ex.fail(step, started, classifyFailure(step, rerr), meta)
	}
}

func (ex *Executor) fail(step Step, started time.Time, se *wferrors.StepError, meta *retry.Metadata) StepResult {
	return StepResult{
		StepNumber:    step.StepNumber,
		StepName:      step.StepName,
		Status:        StatusFailed,
		ErrorMessage:  se.Error(),
		RetryMetadata: toRetryMetadata(meta),
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
}

func toRetryMetadata(meta *retry.Metadata) *RetryMetadata {
	if meta == nil || len(meta.Attempts) == 0 {
		return nil
	}
	last := meta.Attempts[len(meta.Attempts)-1]
	return &RetryMetadata{
		Attempts:   len(meta.Attempts),
		TotalDelay: meta.TotalDelay,
		FinalClass: last.Classification,
	}
}

func classifyFailure(step Step, err error) *wferrors.StepError {
	class := retry.Classify(err)
	return wferrors.New(wferrors.Classification(class), wferrors.CodeRuntimeError, step.StepName, err)
}

func emit(f EventFunc, eventType string, data map[string]any) {
	if f != nil {
		f(eventType, data)
	}
}
