package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_events_published_total",
			Help: "Total number of events that passed the middleware chain and were dispatched",
		},
		[]string{"event_type"},
	)

	eventsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_events_blocked_total",
			Help: "Total number of events cancelled by a middleware",
		},
		[]string{"event_type"},
	)

	handlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_event_handler_errors_total",
			Help: "Total number of event handler panics, isolated from sibling handlers",
		},
		[]string{"event_type"},
	)
)

// metricsRecorder is a thin, instance-scoped wrapper over the package-level
// promauto collectors above, so every Bus shares one registration instead
// of panicking on duplicate registration when more than one Bus is built
// (tests construct several).
type metricsRecorder struct{}

func newMetricsRecorder() *metricsRecorder { return &metricsRecorder{} }

func (*metricsRecorder) recordPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

func (*metricsRecorder) recordBlocked(eventType string) {
	eventsBlocked.WithLabelValues(eventType).Inc()
}

func (*metricsRecorder) recordHandlerError(eventType string) {
	handlerErrors.WithLabelValues(eventType).Inc()
}
