// Package llm adapts an LLM chat call into the workflow.StepExecutor port
// (spec.md §6 "StepExecutor (port)... implementations include...
// LLM/chat adapters (I/O)"). Grounded on nevindra-oasis's Provider
// interface (provider.go: Chat/ChatWithTools/ChatStream/Name) for the
// adapter shape — a single-method Execute here plays the same role
// Provider.Chat plays there, generalized from "pick one of several
// configured providers" to "this step's Kind names exactly one executor,
// dispatched once by workflow.Registry" — and on BDNK1-sflowg's own
// expr-lang usage (runtime/engine/yaml/evaluator.go) for the derived-
// variable evaluation step ahead of prompt construction: expr-lang is the
// teacher's own general-purpose Go-expression engine, reserved by
// SPEC_FULL.md's ambient-stack section for exactly this kind of
// step-author-facing templating surface, distinct from the condition
// package's namespace-constrained `$variable` grammar.
package llm

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/expr-lang/expr"

	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// Config configures the Executor's Anthropic client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// DefaultConfig mirrors nevindra-oasis's provider defaults (a fixed model
// name, a conservative token ceiling) absent any step-level override.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-3-5-sonnet-latest",
		MaxTokens: 1024,
	}
}

// Executor implements workflow.StepExecutor for Step.Kind == "llm.chat".
type Executor struct {
	client anthropic.Client
	cfg    Config
}

// New builds an Executor against Anthropic's Messages API.
func New(cfg Config) *Executor {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Executor{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}
}

// chatInput is the resolvedInput shape for an "llm.chat" step.
//
//   - systemPrompt: optional, sent verbatim.
//   - userPrompt: a text/template body evaluated against templateVars
//     (after derivedVars has been folded in).
//   - templateVars: values substituted into userPrompt.
//   - derivedVars: expr-lang expressions (evaluated against templateVars)
//     whose results are merged into templateVars before rendering —
//     e.g. {"riskLabel": "riskScore > 0.7 ? \"high\" : \"low\""}.
//   - model / maxTokens: per-step overrides of the Executor's Config.
type chatInput struct {
	SystemPrompt string
	UserPrompt   string
	TemplateVars map[string]any
	DerivedVars  map[string]string
	Model        string
	MaxTokens    int64
}

func parseChatInput(in map[string]any) chatInput {
	ci := chatInput{TemplateVars: map[string]any{}, DerivedVars: map[string]string{}}
	if v, ok := in["systemPrompt"].(string); ok {
		ci.SystemPrompt = v
	}
	if v, ok := in["userPrompt"].(string); ok {
		ci.UserPrompt = v
	}
	if v, ok := in["templateVars"].(map[string]any); ok {
		ci.TemplateVars = v
	}
	if v, ok := in["derivedVars"].(map[string]any); ok {
		for k, raw := range v {
			if s, ok := raw.(string); ok {
				ci.DerivedVars[k] = s
			}
		}
	}
	if v, ok := in["model"].(string); ok {
		ci.Model = v
	}
	if v, ok := in["maxTokens"].(int); ok {
		ci.MaxTokens = int64(v)
	}
	return ci
}

// renderPrompt evaluates every derivedVars expression via expr-lang against
// templateVars, folds the results back into templateVars, then renders
// userPrompt as a text/template body against the merged map.
func renderPrompt(ci chatInput) (string, error) {
	vars := make(map[string]any, len(ci.TemplateVars)+len(ci.DerivedVars))
	for k, v := range ci.TemplateVars {
		vars[k] = v
	}
	for name, exprStr := range ci.DerivedVars {
		out, err := expr.Eval(exprStr, vars)
		if err != nil {
			return "", fmt.Errorf("derivedVars[%s]: %w", name, err)
		}
		vars[name] = out
	}

	tmpl, err := template.New("userPrompt").Parse(ci.UserPrompt)
	if err != nil {
		return "", fmt.Errorf("parse userPrompt template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render userPrompt template: %w", err)
	}
	return sb.String(), nil
}

// Execute sends one chat completion request and returns the assistant's
// text plus token usage, matching the flattened response-map convention
// stepexecutors/http uses for its own output.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, resolvedInput map[string]any) (any, error) {
	ci := parseChatInput(resolvedInput)
	if ci.UserPrompt == "" {
		return nil, fmt.Errorf("llm step %q: userPrompt is required", step.StepName)
	}

	prompt, err := renderPrompt(ci)
	if err != nil {
		return nil, fmt.Errorf("llm step %q: %w", step.StepName, err)
	}

	model := e.cfg.Model
	if ci.Model != "" {
		model = ci.Model
	}
	maxTokens := e.cfg.MaxTokens
	if ci.MaxTokens != 0 {
		maxTokens = ci.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if ci.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: ci.SystemPrompt}}
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm step %q: anthropic call: %w", step.StepName, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return map[string]any{
		"text":         text.String(),
		"model":        string(msg.Model),
		"stopReason":   string(msg.StopReason),
		"inputTokens":  msg.Usage.InputTokens,
		"outputTokens": msg.Usage.OutputTokens,
	}, nil
}
