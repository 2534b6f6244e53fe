// Package metrics provides Prometheus-based instrumentation for the
// Orchestrator, grounded on Azure-containerization-assist's
// WorkflowMetricsCollector (pkg/mcp/infrastructure/observability/metrics/
// workflow_metrics.go) — the same promauto.NewCounterVec/NewHistogramVec
// shape, pared down to the counters/histograms this runtime's operations
// (execute/step/retry/routing) actually produce.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the Orchestrator's optional metrics sink. Unset by default —
// the Orchestrator no-ops without one, the same optionality as
// notify.HITLNotifier.
type Collector struct {
	executions       *prometheus.CounterVec
	executionSeconds *prometheus.HistogramVec
	steps            *prometheus.CounterVec
	stepSeconds      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	routingDecisions *prometheus.CounterVec
}

// New registers a fresh set of collectors under namespace in the default
// Prometheus registry (promauto's package-level registerer), mirroring
// NewWorkflowMetricsCollector's namespaced-metric construction.
func New(namespace string) *Collector {
	return &Collector{
		executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total workflow executions by terminal status",
		}, []string{"status"}),

		executionSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),

		steps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total step executions by step name and status",
		}, []string{"step", "status"}),

		stepSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),

		retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total retry attempts by step name",
		}, []string{"step"}),

		routingDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total final routing decisions by decision kind",
		}, []string{"decision"}),
	}
}

// RecordExecution records one workflow execution's terminal status and
// wall-clock duration.
func (c *Collector) RecordExecution(status string, d time.Duration) {
	c.executions.WithLabelValues(status).Inc()
	c.executionSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// RecordStep records one step's terminal status and duration.
func (c *Collector) RecordStep(stepName, status string, d time.Duration) {
	c.steps.WithLabelValues(stepName, status).Inc()
	c.stepSeconds.WithLabelValues(stepName).Observe(d.Seconds())
}

// RecordRetry records one retry attempt for a step.
func (c *Collector) RecordRetry(stepName string) {
	c.retries.WithLabelValues(stepName).Inc()
}

// RecordRoutingDecision records a workflow's final routing decision.
func (c *Collector) RecordRoutingDecision(decision string) {
	c.routingDecisions.WithLabelValues(decision).Inc()
}
