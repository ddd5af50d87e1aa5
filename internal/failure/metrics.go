package failure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	strategyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_failure_strategy_outcomes_total",
			Help: "Total count of failure-strategy outcomes by strategy and success",
		},
		[]string{"strategy", "success"},
	)

	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_failure_retry_attempts",
			Help:    "Number of retry attempts consumed before a RETRY strategy settled",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)
)

func recordOutcome(strategy Strategy, success bool) {
	strategyOutcomes.WithLabelValues(string(strategy), boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
