package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"collaborator"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"collaborator", "state", "result"},
	)

	circuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"collaborator", "from_state", "to_state"},
	)

	circuitBreakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_open_since_seconds",
			Help: "Timestamp when the circuit breaker entered open state (0 if not open)",
		},
		[]string{"collaborator"},
	)
)

// MetricsCollector collects and exports circuit breaker metrics for every
// collaborator breaker registered with it.
type MetricsCollector struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// RegisterCircuitBreaker registers a collaborator's circuit breaker for
// metrics collection, chaining any OnStateChange callback already set.
func (mc *MetricsCollector) RegisterCircuitBreaker(collaborator string, cb *CircuitBreaker) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.breakers[collaborator] = cb

	originalCallback := cb.config.OnStateChange
	cb.config.OnStateChange = func(collaborator string, from State, to State) {
		if originalCallback != nil {
			originalCallback(collaborator, from, to)
		}

		circuitBreakerStateChanges.WithLabelValues(collaborator, from.String(), to.String()).Inc()
		circuitBreakerState.WithLabelValues(collaborator).Set(float64(to))

		if to == StateOpen {
			circuitBreakerOpenSince.WithLabelValues(collaborator).SetToCurrentTime()
		} else if from == StateOpen {
			circuitBreakerOpenSince.WithLabelValues(collaborator).Set(0)
		}
	}
}

// RecordRequest records a request attempt against a collaborator's breaker.
func (mc *MetricsCollector) RecordRequest(collaborator string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	circuitBreakerRequests.WithLabelValues(collaborator, state.String(), result).Inc()
}

// UpdateMetrics refreshes the state gauge for every registered breaker.
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	for collaborator, cb := range mc.breakers {
		circuitBreakerState.WithLabelValues(collaborator).Set(float64(cb.State()))
	}
}

// GlobalMetricsCollector is the process-wide collector every coordinator
// circuit breaker registers with.
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection runs a background ticker that periodically
// refreshes gauge metrics for every registered breaker.
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			GlobalMetricsCollector.UpdateMetrics()
		}
	}()
}
