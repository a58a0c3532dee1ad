package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting conduit metrics.
//
// It tracks:
//   - Turns by terminal status and duration
//   - LLM request latency, outcome and token usage
//   - Tool executions by tool and status, retries and dedup hits
//   - Circuit breaker transitions and short-circuited calls
//   - Budget blocks and HTTP requests
//
// Every method is a no-op on a nil *Metrics.
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: status (success|incomplete|aborted|error|blocked)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds.
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
	// Labels: tool_name, status (ok|error|cached)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RetryCounter counts retry attempts after a failure.
	// Labels: key (llm|tool:<server>)
	RetryCounter *prometheus.CounterVec

	// DedupHits counts tool calls served from the per-turn cache.
	// Labels: tool_name
	DedupHits *prometheus.CounterVec

	// BreakerTransitions counts circuit breaker state changes.
	// Labels: key, from, to
	BreakerTransitions *prometheus.CounterVec

	// BreakerRejections counts calls short-circuited by an open breaker.
	// Labels: key
	BreakerRejections *prometheus.CounterVec

	// BudgetBlocks counts turns blocked by a hard budget limit.
	BudgetBlocks prometheus.Counter

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call it once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_turns_total",
				Help: "Total number of turns by terminal status",
			},
			[]string{"status"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_turn_duration_seconds",
				Help:    "Duration of turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		RetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_retries_total",
				Help: "Total number of retry attempts by breaker key",
			},
			[]string{"key"},
		),
		DedupHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_dedup_hits_total",
				Help: "Tool calls answered from the per-turn cache",
			},
			[]string{"tool_name"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"key", "from", "to"},
		),
		BreakerRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_breaker_rejections_total",
				Help: "Calls rejected by an open circuit breaker",
			},
			[]string{"key"},
		),
		BudgetBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conduit_budget_blocks_total",
				Help: "Turns blocked by a hard budget limit",
			},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordRetry counts one retry for key.
func (m *Metrics) RecordRetry(key string) {
	if m == nil {
		return
	}
	m.RetryCounter.WithLabelValues(key).Inc()
}

// RecordDedupHit counts a cached tool call.
func (m *Metrics) RecordDedupHit(toolName string) {
	if m == nil {
		return
	}
	m.DedupHits.WithLabelValues(toolName).Inc()
}

// RecordBreakerTransition counts a breaker state change.
func (m *Metrics) RecordBreakerTransition(key, from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(key, from, to).Inc()
}

// RecordBreakerRejection counts a short-circuited call.
func (m *Metrics) RecordBreakerRejection(key string) {
	if m == nil {
		return
	}
	m.BreakerRejections.WithLabelValues(key).Inc()
}

// RecordBudgetBlock counts a blocked turn.
func (m *Metrics) RecordBudgetBlock() {
	if m == nil {
		return
	}
	m.BudgetBlocks.Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
