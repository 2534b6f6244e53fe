package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func countingExecutor(calls *int) StepExecutorFunc {
	return func(ctx context.Context, step Step, resolvedInput map[string]any) (any, error) {
		*calls++
		return map[string]any{"ok": true}, nil
	}
}

func basicStep(n int, outVar string) Step {
	return Step{
		StepNumber:     n,
		StepName:       "step" + string(rune('0'+n)),
		Kind:           "noop",
		OutputVariable: outVar,
		ErrorHandling:  ErrorHandling{OnError: OnErrorFail},
	}
}

// Scenario 1 from spec.md §8.
func TestRun_Scenario1_Waves(t *testing.T) {
	steps := []Step{
		basicStep(1, "a"),
		basicStep(2, "b"),
		{StepNumber: 3, StepName: "s3", Kind: "noop", OutputVariable: "c",
			InputMapping:  map[string]string{"x": "$step1.a.ok"},
			ErrorHandling: ErrorHandling{OnError: OnErrorFail}},
		{StepNumber: 4, StepName: "s4", Kind: "noop", OutputVariable: "d",
			InputMapping:  map[string]string{"y": "$step2.b.ok", "z": "$step3.c.ok"},
			ErrorHandling: ErrorHandling{OnError: OnErrorFail}},
	}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(nil, nil, len(steps))
	calls := 0
	ex := NewExecutor(Registry{"noop": countingExecutor(&calls)})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v: %s", result.Status, result.ErrorMessage)
	}
	if calls != 4 {
		t.Errorf("expected 4 step invocations, got %d", calls)
	}
	if len(result.StepResults) != 4 {
		t.Fatalf("expected 4 results, got %d", len(result.StepResults))
	}
	for i, r := range result.StepResults {
		if r.StepNumber != i+1 {
			t.Errorf("stepResults not sorted by stepNumber: %+v", result.StepResults)
		}
	}
}

// Scenario 2 from spec.md §8: onError=fail, retryCount=2, always fails ->
// 3 attempts, status failed, remaining steps skipped.
func TestRun_Scenario2_RetryExhaustionCancelsRun(t *testing.T) {
	attempts := 0
	alwaysFails := StepExecutorFunc(func(ctx context.Context, step Step, resolvedInput map[string]any) (any, error) {
		attempts++
		return nil, errors.New("connection refused")
	})

	steps := []Step{
		{StepNumber: 1, StepName: "flaky", Kind: "flaky", OutputVariable: "a",
			ErrorHandling: ErrorHandling{OnError: OnErrorFail, RetryCount: 2, BaseDelaySec: 0.01, MaxDelaySec: 0.02}},
		{StepNumber: 2, StepName: "after", Kind: "noop", OutputVariable: "b",
			InputMapping:  map[string]string{"x": "$step1.a"},
			ErrorHandling: ErrorHandling{OnError: OnErrorFail}},
	}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(nil, nil, len(steps))
	calls := 0
	ex := NewExecutor(Registry{"flaky": alwaysFails, "noop": countingExecutor(&calls)})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + retryCount 2), got %d", attempts)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected run status failed, got %v", result.Status)
	}
	if result.StepResults[0].Status != StatusFailed {
		t.Errorf("expected step 1 failed, got %v", result.StepResults[0].Status)
	}
	if result.StepResults[1].Status != StatusSkipped {
		t.Errorf("expected step 2 skipped, got %v", result.StepResults[1].Status)
	}
	if result.CancelledAtStep == nil || *result.CancelledAtStep != 1 {
		t.Errorf("expected cancelledAtStep=1, got %v", result.CancelledAtStep)
	}
}

// Scenario 3 from spec.md §8: onError=fallback, timeoutSec=0.1,
// fallbackValue={ok:true}, operation sleeps 1s -> single timeout, no
// retries (retryOnTimeout=false), step completed with fallback output.
func TestRun_Scenario3_TimeoutFallback(t *testing.T) {
	calls := 0
	slow := StepExecutorFunc(func(ctx context.Context, step Step, resolvedInput map[string]any) (any, error) {
		calls++
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	steps := []Step{
		{StepNumber: 1, StepName: "slow", Kind: "slow", OutputVariable: "a",
			ErrorHandling: ErrorHandling{
				OnError:       OnErrorFallback,
				TimeoutSec:    0.1,
				FallbackValue: map[string]any{"ok": true},
				RetryOnTimeout: false,
			}},
	}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(nil, nil, len(steps))
	ex := NewExecutor(Registry{"slow": slow})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected single attempt (no timeout retry), got %d", calls)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected run completed, got %v: %s", result.Status, result.ErrorMessage)
	}
	r := result.StepResults[0]
	if r.Status != StatusCompleted {
		t.Fatalf("expected step completed via fallback, got %v", r.Status)
	}
	out, ok := r.OutputData.(map[string]any)
	if !ok || out["ok"] != true {
		t.Errorf("expected fallback output {ok:true}, got %v", r.OutputData)
	}
}

func TestRun_ConditionGateSkipsStep(t *testing.T) {
	calls := 0
	steps := []Step{
		{StepNumber: 1, StepName: "gated", Kind: "noop", OutputVariable: "a",
			Condition:     "$input.run == true",
			ErrorHandling: ErrorHandling{OnError: OnErrorFail}},
	}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(map[string]any{"run": false}, nil, len(steps))
	ex := NewExecutor(Registry{"noop": countingExecutor(&calls)})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected gated step not invoked, got %d calls", calls)
	}
	if result.StepResults[0].Status != StatusSkipped {
		t.Errorf("expected skipped, got %v", result.StepResults[0].Status)
	}
}

// Boundary behaviour: a 1-step workflow runs as the single wave [[1]] and
// yields exactly one result, for step 1.
func TestRun_SingleStep(t *testing.T) {
	calls := 0
	wf := &WorkflowDefinition{Steps: []Step{basicStep(1, "a")}}
	ec := NewExecutionContext(nil, nil, 1)
	ex := NewExecutor(Registry{"noop": countingExecutor(&calls)})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.StepResults) != 1 || result.StepResults[0].StepNumber != 1 {
		t.Errorf("unexpected result: %+v", result.StepResults)
	}
}

func TestRun_SequentialModeDisablesConcurrency(t *testing.T) {
	calls := 0
	steps := []Step{basicStep(1, "a"), basicStep(2, "b")}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(nil, nil, len(steps))
	ex := NewExecutor(Registry{"noop": countingExecutor(&calls)})

	result, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: false})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != StatusCompleted || calls != 2 {
		t.Errorf("unexpected result: %+v calls=%d", result, calls)
	}
}

func TestRun_ForwardReferenceRejected(t *testing.T) {
	steps := []Step{
		{StepNumber: 1, StepName: "a", Kind: "noop", OutputVariable: "a", InputMapping: map[string]string{"x": "$step2.y"}},
		{StepNumber: 2, StepName: "b", Kind: "noop", OutputVariable: "b"},
	}
	wf := &WorkflowDefinition{Steps: steps}
	ec := NewExecutionContext(nil, nil, len(steps))
	ex := NewExecutor(Registry{})

	_, err := ex.Run(context.Background(), wf, ec, RunOptions{Parallel: true})
	if err == nil {
		t.Fatal("expected forward reference error")
	}
}
