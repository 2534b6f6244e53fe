package workflow

import (
	"sync"
	"sync/atomic"

	"github.com/sflowg-labs/deliverable-workflows/condition"
	"github.com/sflowg-labs/deliverable-workflows/depgraph"
)

func validateNumbering(numbers []int) error {
	return depgraph.ValidateNumbering(numbers)
}

// ExecutionContext is built once per run and owned exclusively by the
// Executor for the run's duration (spec.md §3/§5). Input and Context are
// immutable after construction; Steps is monotonic (entries are only added,
// never mutated); Cancelled is set at most once per transition and never
// cleared.
type ExecutionContext struct {
	input   map[string]any
	context map[string]any

	mu    sync.RWMutex
	steps map[string]any

	cancelled atomic.Bool
	completed atomic.Int64
	total     atomic.Int64
}

// NewExecutionContext constructs a context for a run with the given input
// and caller-supplied metadata. Both maps are copied defensively so the
// caller's originals are never mutated by the run.
func NewExecutionContext(input, context map[string]any, totalSteps int) *ExecutionContext {
	ec := &ExecutionContext{
		input:   copyMap(input),
		context: copyMap(context),
		steps:   make(map[string]any),
	}
	ec.total.Store(int64(totalSteps))
	return ec
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetStepOutput records a completed step's output under its outputVariable.
// Per spec.md §4.8/§5, this is called by the Executor only after a wave
// fully joins, in step-number order, so no concurrent step ever observes a
// partial sibling output.
func (ec *ExecutionContext) SetStepOutput(outputVariable string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.steps[outputVariable] = value
}

// Cancel sets the cancelled flag. Idempotent: calling it any number of times
// has the same effect as once (spec.md §8 "cancelExecution is idempotent").
func (ec *ExecutionContext) Cancel() {
	ec.cancelled.Store(true)
}

// Cancelled reports whether the run has been cancelled.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.cancelled.Load()
}

// IncrementCompleted bumps the progress counter and returns (completed, total).
func (ec *ExecutionContext) IncrementCompleted() (int, int) {
	return int(ec.completed.Add(1)), int(ec.total.Load())
}

// Progress returns (completed, total) without mutating.
func (ec *ExecutionContext) Progress() (int, int) {
	return int(ec.completed.Load()), int(ec.total.Load())
}

// Snapshot returns a read-only structured-clone view suitable for passing to
// the condition evaluator, the risk rule engine, and streaming subscribers
// (spec.md §3 "Ownership"). A shallow copy of the three top-level maps is
// sufficient per spec.md §5, since step outputs are treated as immutable
// once recorded.
func (ec *ExecutionContext) Snapshot() *condition.Context {
	ec.mu.RLock()
	steps := copyMap(ec.steps)
	ec.mu.RUnlock()

	return &condition.Context{
		Input: ec.input,
		Ctx:   ec.context,
		Steps: steps,
	}
}

// Input returns the immutable input map (never mutated after construction,
// safe to read without locking).
func (ec *ExecutionContext) Input() map[string]any { return ec.input }

// Context returns the immutable caller-supplied metadata map.
func (ec *ExecutionContext) Context() map[string]any { return ec.context }

// StepOutputs returns a shallow copy of the current steps map.
func (ec *ExecutionContext) StepOutputs() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return copyMap(ec.steps)
}
