package timeoutpolicy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunSucceedsWithinDeadline(t *testing.T) {
	res := Run(context.Background(), Policy{Timeout: time.Second, Strategy: Fail}, func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if res.Status != StatusCompleted || res.Value != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunPropagatesOperationError(t *testing.T) {
	wantErr := errors.New("boom")
	res := Run(context.Background(), Policy{Timeout: time.Second, Strategy: Fail}, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if res.Status != StatusFailed || res.Err != wantErr {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunFailStrategyOnExpiry(t *testing.T) {
	res := Run(context.Background(), Policy{Timeout: 10 * time.Millisecond, Strategy: Fail}, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if res.Status != StatusFailed || !res.TimedOut {
		t.Fatalf("expected timed-out failed result, got %+v", res)
	}
}

func TestRunFallbackStrategyOnExpiry(t *testing.T) {
	res := Run(context.Background(), Policy{Timeout: 10 * time.Millisecond, Strategy: Fallback, FallbackVal: "fallback-value"}, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if res.Status != StatusCompleted || res.Value != "fallback-value" || !res.TimedOut {
		t.Fatalf("expected completed fallback result, got %+v", res)
	}
}

func TestRunSkipStrategyOnExpiry(t *testing.T) {
	res := Run(context.Background(), Policy{Timeout: 10 * time.Millisecond, Strategy: Skip}, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if res.Status != StatusSkipped || !res.TimedOut {
		t.Fatalf("expected skipped result, got %+v", res)
	}
}

func TestRunInvokesCleanupExactlyOnceOnExpiry(t *testing.T) {
	calls := 0
	res := Run(context.Background(), Policy{
		Timeout:  10 * time.Millisecond,
		Strategy: Fail,
		Cleanup: func(ctx context.Context) {
			calls++
		},
	}, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond) // ensure op observes cancellation before test ends
		return nil, ctx.Err()
	})
	if res.Status != StatusFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected cleanup called exactly once, got %d", calls)
	}
}

func TestRunDoesNotInvokeCleanupOnSuccess(t *testing.T) {
	calls := 0
	Run(context.Background(), Policy{
		Timeout:  time.Second,
		Strategy: Fail,
		Cleanup: func(ctx context.Context) {
			calls++
		},
	}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if calls != 0 {
		t.Fatalf("expected cleanup not called on success, got %d calls", calls)
	}
}

func TestRunExternalCancellationPropagatesRegardlessOfStrategy(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	res := Run(parent, Policy{Timeout: time.Hour, Strategy: Fallback, FallbackVal: "nope"}, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if res.Status != StatusFailed {
		t.Fatalf("expected external cancellation to yield failed status regardless of Fallback strategy, got %+v", res)
	}
	if res.TimedOut {
		t.Fatal("external cancellation should not be reported as our own timeout")
	}
}

func TestRunNoDeadlineRunsUnbounded(t *testing.T) {
	res := Run(context.Background(), Policy{Strategy: Fail}, func(ctx context.Context) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("expected no deadline when Timeout <= 0")
		}
		return "ok", nil
	})
	if res.Status != StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
}
