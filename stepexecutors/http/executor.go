// Package http adapts an HTTP call into the workflow.StepExecutor port
// (spec.md §6 "StepExecutor (port)... implementations include... domain
// analyzers" — an HTTP-backed third-party service call is the same shape).
// Grounded on plugins/http/plugin.go's resty-based request execution
// (client construction, timeout/retry knobs, header/query/body resolution),
// adapted from the teacher's bespoke "task(exec, args map[string]any)"
// dispatch convention to workflow.StepExecutor.Execute(ctx, step,
// resolvedInput). A sony/gobreaker circuit breaker wraps the client call so
// a failing downstream service trips open instead of letting every
// in-flight step queue against it — this is the home SPEC_FULL.md's
// ambient-stack section reserves for the teacher's gobreaker dependency,
// which the teacher itself never wires into plugins/http.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/sony/gobreaker"

	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

// Config configures the Executor's client and circuit breaker.
type Config struct {
	Timeout           time.Duration
	MaxRetries        int
	RetryWaitMS       int
	Debug             bool
	BreakerName       string
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultConfig mirrors plugins/http/plugin.go's Phase-1 hardcoded defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		RetryWaitMS:        100,
		BreakerName:        "http-step-executor",
		BreakerMaxRequests: 1,
		BreakerInterval:    60 * time.Second,
		BreakerTimeout:     30 * time.Second,
	}
}

// Executor implements workflow.StepExecutor for Step.Kind == "http.request".
type Executor struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

// New builds an Executor with the given Config.
func New(cfg Config) *Executor {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Executor{client: client, breaker: breaker}
}

// requestInput is the resolvedInput shape for an "http.request" step,
// mirroring plugins/http/plugin.go's Request task args.
type requestInput struct {
	URL             string         `mapstructure:"url"`
	Method          string         `mapstructure:"method"`
	Headers         map[string]any `mapstructure:"headers"`
	QueryParameters map[string]any `mapstructure:"queryParameters"`
	Body            map[string]any `mapstructure:"body"`
}

// Execute issues the HTTP call described by resolvedInput, through the
// circuit breaker, and returns a flattened response map matching the
// teacher's "status/statusCode/isError/body.*" response shape.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, resolvedInput map[string]any) (any, error) {
	req, err := parseRequestInput(resolvedInput)
	if err != nil {
		return nil, fmt.Errorf("http step %q: %w", step.StepName, err)
	}

	resp, err := e.breaker.Execute(func() (*resty.Response, error) {
		r := e.client.R().SetContext(ctx)
		for k, v := range req.Headers {
			r.SetHeader(k, fmt.Sprintf("%v", v))
		}
		if len(req.QueryParameters) > 0 {
			qp := make(map[string]string, len(req.QueryParameters))
			for k, v := range req.QueryParameters {
				qp[k] = fmt.Sprintf("%v", v)
			}
			r.SetQueryParams(qp)
		}
		if req.Body != nil {
			r.SetBody(req.Body)
		}
		return r.Execute(req.Method, req.URL)
	})
	if err != nil {
		return nil, fmt.Errorf("http step %q: %w", step.StepName, err)
	}

	out := map[string]any{
		"status":     resp.Status(),
		"statusCode": resp.StatusCode(),
		"isError":    resp.IsError(),
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		out["body"] = body
	} else {
		out["body"] = string(resp.Body())
	}
	return out, nil
}

// parseRequestInput decodes the step's resolvedInput map into requestInput
// via mapstructure, the same map⇄struct conversion convention
// runtime/converter.go uses for its typed task wrapper (SPEC_FULL.md §3).
func parseRequestInput(in map[string]any) (requestInput, error) {
	req := requestInput{Method: "GET"}
	if err := mapstructure.Decode(in, &req); err != nil {
		return req, fmt.Errorf("decode request input: %w", err)
	}
	if req.URL == "" {
		return req, fmt.Errorf("url is required")
	}
	return req, nil
}
