package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics for the assistant pipeline.
//
// Tracked series:
//   - Turn throughput and terminal status
//   - LLM request latency, counts, and token consumption per provider
//   - Tool execution counts and latencies per tool
//   - Follow-up loop iterations, including cap hits
//   - Error rates categorized by component and error kind
type Metrics struct {
	// TurnCounter counts turns by terminal status.
	// Labels: status (success|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds, including
	// every continuation iteration.
	// Labels: status
	TurnDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_key, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_key
	ToolExecutionDuration *prometheus.HistogramVec

	// ConfirmationsPending gauges executions awaiting user approval.
	ConfirmationsPending prometheus.Gauge

	// FollowupIterations counts continuation iterations per turn outcome.
	// Labels: outcome (resolved|cap_reached)
	FollowupIterations *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component (orchestrator|provider|tool|store), error_kind
	ErrorCounter *prometheus.CounterVec

	// JobCounter counts background job runs.
	// Labels: kind (run_tool|resume_followup), status (success|error|retry)
	JobCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry registers the metrics with the given registerer.
// A nil registerer uses the Prometheus default. Tests pass their own
// registry so repeated construction does not panic on duplicate names.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_turns_total",
				Help: "Total number of completed assistant turns by terminal status",
			},
			[]string{"status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobdeck_turn_duration_seconds",
				Help:    "End-to-end turn latency including continuation iterations",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobdeck_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_tool_executions_total",
				Help: "Total number of tool executions by tool key and status",
			},
			[]string{"tool_key", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobdeck_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_key"},
		),

		ConfirmationsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobdeck_confirmations_pending",
				Help: "Current number of tool executions awaiting user approval",
			},
		),

		FollowupIterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_followup_iterations_total",
				Help: "Continuation loop iterations by outcome",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		JobCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobdeck_jobs_total",
				Help: "Background job runs by kind and status",
			},
			[]string{"kind", "status"},
		),
	}
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMRequest records one LLM API call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one terminal tool execution.
func (m *Metrics) RecordToolExecution(toolKey, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolKey, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolKey).Observe(durationSeconds)
}

// RecordFollowup records a continuation loop iteration outcome.
func (m *Metrics) RecordFollowup(outcome string) {
	m.FollowupIterations.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a component and error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordJob records a background job run.
func (m *Metrics) RecordJob(kind, status string) {
	m.JobCounter.WithLabelValues(kind, status).Inc()
}
