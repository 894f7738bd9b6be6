// Package prometheus provides Prometheus metrics for agent runs, tool calls
// and evaluations.
package prometheus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lev"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// runDuration is a histogram of agent run duration, labelled by final state.
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of agent run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"}, // status: done, failed
	)

	// runsTotal counts finished runs by status and error kind.
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of agent runs",
		},
		[]string{"status", "error_kind"},
	)

	// runsActive is a gauge of currently executing evaluation runs.
	runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of currently executing evaluation runs",
		},
	)

	// runRetriesTotal counts runs repeated after a retryable model failure.
	runRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_retries_total",
			Help:      "Total number of runs retried after a retryable model failure",
		},
	)

	// providerRequestDuration is a histogram of model call duration.
	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of model completion calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// providerRequestsTotal is a counter of model calls.
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of model completion calls",
		},
		[]string{"provider", "status"},
	)

	// providerTokensTotal is a counter of tokens consumed by model calls.
	providerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed by model calls",
		},
		[]string{"provider", "type"}, // type: input, output
	)

	// toolCallDuration is a histogram of tool call duration.
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// toolCallsTotal is a counter of tool calls.
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	// budgetReactionsTotal counts budget interventions by reaction.
	budgetReactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_reactions_total",
			Help:      "Total number of context budget interventions",
		},
		[]string{"reaction", "status"},
	)

	// scorerDuration is a histogram of scorer duration.
	scorerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scorer_duration_seconds",
			Help:      "Duration of scorer execution in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"metric"},
	)

	// scoresTotal counts score entries by metric and outcome.
	scoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Total number of score entries produced",
		},
		[]string{"metric", "status"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		runDuration,
		runsTotal,
		runsActive,
		runRetriesTotal,
		providerRequestDuration,
		providerRequestsTotal,
		providerTokensTotal,
		toolCallDuration,
		toolCallsTotal,
		budgetReactionsTotal,
		scorerDuration,
		scoresTotal,
	}
)

// Register adds every lev collector to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordRunStart records an evaluation run starting.
func RecordRunStart() {
	runsActive.Inc()
}

// RecordRunEnd records a finished run.
func RecordRunEnd(status, errorKind string, durationSeconds float64) {
	runsActive.Dec()
	runDuration.WithLabelValues(status).Observe(durationSeconds)
	runsTotal.WithLabelValues(status, errorKind).Inc()
}

// RecordRunRetry records a run being repeated.
func RecordRunRetry() {
	runRetriesTotal.Inc()
}

// RecordProviderRequest records a model completion call.
func RecordProviderRequest(provider, status string, durationSeconds float64) {
	providerRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordProviderTokens records token consumption.
func RecordProviderTokens(provider string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall records a tool call.
func RecordToolCall(toolName, status string, durationSeconds float64) {
	toolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
	toolCallsTotal.WithLabelValues(toolName, status).Inc()
}

// RecordBudgetReaction records the budget policy changing or rejecting a request.
func RecordBudgetReaction(reaction, status string) {
	budgetReactionsTotal.WithLabelValues(reaction, status).Inc()
}

// RecordScore records one scorer execution.
func RecordScore(metric, status string, durationSeconds float64) {
	scorerDuration.WithLabelValues(metric).Observe(durationSeconds)
	scoresTotal.WithLabelValues(metric, status).Inc()
}

// StatusOf maps an error to a status label.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
