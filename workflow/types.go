// Package workflow implements the shared data model (§3) and the Parallel
// Executor (component H): WorkflowDefinition, Step, ExecutionContext,
// StepResult, and the wave-based scheduler that runs a step list with
// bounded concurrency, policy wrapping (retry/timeout/condition/validation),
// and error isolation. Grounded on the teacher's runtime.Flow/Step/Execution/
// Executor shape (runtime/executor.go, runtime/execution.go), generalized
// from "one sequential step list, YAML/DSL-dispatched" to "DAG waves,
// policy-wrapped, risk-gated" per SPEC_FULL.md.
package workflow

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/sflowg-labs/deliverable-workflows/retry"
	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	"github.com/sflowg-labs/deliverable-workflows/validation"
)

// structValidate is the shared validator.v10 instance used to check
// `validate:"..."` struct tags at load time, matching runtime/config.go's
// single package-level validator.
var structValidate = validatorpkg.New()

// OnError names the policy applied when a step's retries are exhausted.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorSkip     OnError = "skip"
	OnErrorFallback OnError = "fallback"
)

// ErrorHandling mirrors Step.errorHandling (spec.md §3). Defaults are applied
// with github.com/creasty/defaults at load time (see WorkflowDefinition.ApplyDefaults),
// matching the teacher's own ApplyDefaults convention (runtime/config.go).
type ErrorHandling struct {
	OnError      OnError `json:"onError" yaml:"onError" default:"fail"`
	RetryCount   int     `json:"retryCount" yaml:"retryCount" validate:"gte=0,lte=10"`
	BaseDelaySec float64 `json:"baseDelaySec" yaml:"baseDelaySec" validate:"gte=0.1,lte=60" default:"1"`
	MaxDelaySec  float64 `json:"maxDelaySec" yaml:"maxDelaySec" validate:"gte=1,lte=3600" default:"30"`
	TimeoutSec   float64 `json:"timeoutSec" yaml:"timeoutSec"`
	FallbackValue any    `json:"fallbackValue,omitempty" yaml:"fallbackValue,omitempty"`

	ExponentialBase      float64 `json:"exponentialBase,omitempty" yaml:"exponentialBase,omitempty" default:"2"`
	Jitter               bool    `json:"jitter" yaml:"jitter" default:"true"`
	RetryOnTimeout       bool    `json:"retryOnTimeout" yaml:"retryOnTimeout"`
	RetryOnTransientOnly bool    `json:"retryOnTransientOnly" yaml:"retryOnTransientOnly"`
}

// RetryConfig adapts ErrorHandling's retry-relevant fields into retry.Config.
func (eh ErrorHandling) RetryConfig() retry.Config {
	base := eh.ExponentialBase
	if base == 0 {
		base = 2
	}
	return retry.Config{
		RetryCount:           eh.RetryCount,
		BaseDelaySec:         eh.BaseDelaySec,
		MaxDelaySec:          eh.MaxDelaySec,
		ExponentialBase:      base,
		Jitter:               eh.Jitter,
		RetryOnTimeout:       eh.RetryOnTimeout,
		RetryOnTransientOnly: eh.RetryOnTransientOnly,
	}
}

// Step is one node of a WorkflowDefinition (spec.md §3).
type Step struct {
	StepNumber     int               `json:"stepNumber" yaml:"stepNumber"`
	StepName       string            `json:"stepName" yaml:"stepName"`
	Kind           string            `json:"kind" yaml:"kind"`
	InputMapping   map[string]string `json:"inputMapping,omitempty" yaml:"inputMapping,omitempty"`
	Condition      string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	OutputVariable string            `json:"outputVariable" yaml:"outputVariable"`
	ErrorHandling  ErrorHandling     `json:"errorHandling" yaml:"errorHandling"`
	OutputSchema   *validation.Schema `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	InputSchema    *validation.Schema `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// exprs returns every expression string that may reference $stepK.var,
// for depgraph.Build: every inputMapping value plus the condition.
func (s Step) exprs() []string {
	out := make([]string, 0, len(s.InputMapping)+1)
	for _, v := range s.InputMapping {
		out = append(out, v)
	}
	if s.Condition != "" {
		out = append(out, s.Condition)
	}
	return out
}

// WorkflowDefinition is immutable for the duration of one run (spec.md §3).
type WorkflowDefinition struct {
	SchemaKey    string           `json:"schemaKey" yaml:"schemaKey"`
	Version      string           `json:"version" yaml:"version"`
	Steps        []Step           `json:"steps" yaml:"steps"`
	RiskRules    *riskrules.Config `json:"riskRules,omitempty" yaml:"riskRules,omitempty"`
	InputSchema  *validation.Schema `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema *validation.Schema `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
}

// Validate checks the structural invariants from spec.md §3: contiguous
// 1..N numbering, unique output variables, and every ErrorHandling block's
// `validate:"..."` struct tags (retryCount/delay bounds).
// Reference/cycle validation is a separate step (depgraph.Build, run by
// Executor.Run), since the
// spec reports forward-reference and cycle errors distinctly (spec.md §7).
func (w *WorkflowDefinition) Validate() error {
	numbers := make([]int, len(w.Steps))
	seenVar := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		numbers[i] = s.StepNumber
		if s.OutputVariable == "" {
			return fmt.Errorf("workflow: step %d missing outputVariable", s.StepNumber)
		}
		if seenVar[s.OutputVariable] {
			return fmt.Errorf("workflow: duplicate outputVariable %q", s.OutputVariable)
		}
		seenVar[s.OutputVariable] = true
		if err := structValidate.Struct(s.ErrorHandling); err != nil {
			return fmt.Errorf("workflow: step %d errorHandling: %w", s.StepNumber, err)
		}
	}
	if w.RiskRules != nil {
		if err := w.RiskRules.Validate(); err != nil {
			return fmt.Errorf("workflow: riskRules: %w", err)
		}
	}
	return validateNumbering(numbers)
}

// ApplyDefaults fills zero-valued defaulted fields (`default:"..."` tags)
// across every step's ErrorHandling block, following runtime/config.go's
// ApplyDefaults convention of defaulting once at load time rather than at
// every read site.
func (w *WorkflowDefinition) ApplyDefaults() error {
	for i := range w.Steps {
		if err := defaults.Set(&w.Steps[i].ErrorHandling); err != nil {
			return fmt.Errorf("workflow: apply defaults for step %d: %w", w.Steps[i].StepNumber, err)
		}
	}
	return nil
}

// StepByNumber indexes steps for O(1) lookup during execution.
func (w *WorkflowDefinition) StepByNumber() map[int]Step {
	m := make(map[int]Step, len(w.Steps))
	for _, s := range w.Steps {
		m[s.StepNumber] = s
	}
	return m
}

// Status is a StepResult or ParallelExecutionResult's terminal state.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// RetryMetadata mirrors retry.Metadata with JSON tags for the audit trail.
type RetryMetadata struct {
	Attempts   int           `json:"attempts"`
	TotalDelay time.Duration `json:"totalDelayNs"`
	FinalClass retry.Classification `json:"finalClassification,omitempty"`
}

// StepResult is the outcome of one step attempt (spec.md §3).
type StepResult struct {
	StepNumber    int            `json:"stepNumber"`
	StepName      string         `json:"stepName"`
	Status        Status         `json:"status"`
	OutputData    any            `json:"outputData,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	RetryMetadata *RetryMetadata `json:"retryMetadata,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// ParallelExecutionResult is returned by Executor.Run (spec.md §4.8).
type ParallelExecutionResult struct {
	Status          Status       `json:"status"`
	StepResults     []StepResult `json:"stepResults"`
	ExecutionContext *ExecutionContext `json:"-"`
	TotalTimeMs     float64      `json:"totalTimeMs"`
	ParallelSpeedup float64      `json:"parallelSpeedup"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	CancelledAtStep *int         `json:"cancelledAtStep,omitempty"`
}
