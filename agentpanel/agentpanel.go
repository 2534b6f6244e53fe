// Package agentpanel implements the Agent Orchestrator (component K): a
// specialization of the Parallel Executor for independent analysis tasks
// that have no mutual dependencies. Unlike workflow.Executor, which groups
// steps into waves by dependency generation, every task here runs fully
// concurrently, each under its own timeout, with per-agent error isolation.
// Grounded on itsneelabh-gomind/pkg/orchestration/executor.go's independent-
// task executor shape (fan out, await all, classify per-task outcome), with
// the wave-join mechanics reused from workflow.Executor's use of
// golang.org/x/sync/errgroup.
package agentpanel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sflowg-labs/deliverable-workflows/timeoutpolicy"
)

// Task is one independent unit of work dispatched to the panel — typically
// a "review concept" or "quick review" analyzer invocation. It is the same
// shape as workflow.StepExecutor.Execute but decoupled from Step/context so
// the panel can be used outside a DAG-driven workflow run.
type Task struct {
	Name       string
	TimeoutSec float64
	Run        func(ctx context.Context) (any, error)
}

// Outcome is one task's result.
type Outcome struct {
	Name        string
	Status      Status
	Output      any
	Err         error
	TimedOut    bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Status mirrors workflow.Status for a single agent task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result aggregates every task's Outcome plus the panel-level classification
// spec.md §4.11 asks for: (success, partialSuccess).
type Result struct {
	Outcomes      []Outcome
	Success       bool // every task completed
	PartialSuccess bool // at least one completed, at least one failed
}

// Run launches every task fully in parallel (no waves) and awaits all before
// returning, isolating each task's failure from the others. A cancelled or
// expired parent ctx propagates into every in-flight task: timeoutpolicy.Run
// returns at once with the parent's error and that task is reported failed.
func Run(ctx context.Context, tasks []Task) Result {
	outcomes := make([]Outcome, len(tasks))

	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			outcomes[i] = runOne(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Outcomes: outcomes}
	completed, failed := 0, 0
	for _, o := range outcomes {
		if o.Status == StatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	res.Success = failed == 0
	res.PartialSuccess = completed > 0 && failed > 0
	return res
}

func runOne(parent context.Context, task Task) Outcome {
	started := time.Now()
	timeout := time.Duration(task.TimeoutSec * float64(time.Second))
	tr := timeoutpolicy.Run(parent, timeoutpolicy.Policy{
		Timeout:  timeout,
		Strategy: timeoutpolicy.Fail,
	}, func(ctx context.Context) (any, error) {
		return task.Run(ctx)
	})

	o := Outcome{
		Name:        task.Name,
		StartedAt:   started,
		CompletedAt: time.Now(),
		TimedOut:    tr.TimedOut,
	}
	if tr.Status == timeoutpolicy.StatusCompleted {
		o.Status = StatusCompleted
		o.Output = tr.Value
	} else {
		o.Status = StatusFailed
		o.Err = tr.Err
	}
	return o
}
