// Package timeoutpolicy runs an operation with a deadline and one of three
// expiry strategies. Grounded on runtime/executor.go's per-attempt
// context.WithTimeout wrapping and runtime/execution.go's WithScopedContext/
// context.WithoutCancel pattern for detached cleanup.
package timeoutpolicy

import (
	"context"
	"time"
)

// Strategy names the behavior on deadline expiry.
type Strategy string

const (
	// Fail returns a failed Result; the caller may re-raise.
	Fail Strategy = "fail"
	// Fallback returns success with a pre-configured fallback value.
	Fallback Strategy = "fallback"
	// Skip returns failed with Status=skipped.
	Skip Strategy = "skip"
)

// Status mirrors StepResult.status for the skip strategy.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Operation is run under a bounded context.
type Operation func(ctx context.Context) (any, error)

// Result is the outcome of Run.
type Result struct {
	Status   Status
	Value    any
	Err      error
	TimedOut bool
}

// Policy configures one Run call.
type Policy struct {
	Timeout      time.Duration
	Strategy     Strategy
	FallbackVal  any
	// Cleanup, if set, is invoked exactly once on expiry, using a context
	// detached from the (already-expired) parent so it can still complete.
	Cleanup func(ctx context.Context)
}

// Run executes op with a deadline of p.Timeout (no deadline if <= 0),
// applying p.Strategy if the deadline expires before op returns.
//
// External cancellation of ctx (not caused by this function's own timeout)
// propagates through unchanged regardless of strategy.
func Run(ctx context.Context, p Policy, op Operation) Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op(runCtx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Status: StatusFailed, Err: o.err}
		}
		return Result{Status: StatusCompleted, Value: o.val}
	case <-runCtx.Done():
		// Distinguish external cancellation/deadline (parent ctx) from our own
		// timeout: if the parent is already done, runCtx inherited that and
		// the strategy below must not apply.
		if ctx.Err() != nil {
			return Result{Status: StatusFailed, Err: ctx.Err()}
		}

		if p.Cleanup != nil {
			p.Cleanup(context.WithoutCancel(ctx))
		}

		switch p.Strategy {
		case Fallback:
			return Result{Status: StatusCompleted, Value: p.FallbackVal, TimedOut: true}
		case Skip:
			return Result{Status: StatusSkipped, Err: runCtx.Err(), TimedOut: true}
		default: // Fail
			return Result{Status: StatusFailed, Err: runCtx.Err(), TimedOut: true}
		}
	}
}
