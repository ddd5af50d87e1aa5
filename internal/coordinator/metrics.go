package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentcore_coordinator_workflows_active",
		Help: "Number of WorkflowState records currently in the running status",
	})

	snapshotVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_coordinator_snapshot_version",
			Help: "Current compressed-context snapshot version per workflow",
		},
		[]string{"workflow_id"},
	)

	knowledgeCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_coordinator_knowledge_cache_total",
			Help: "Knowledge reference merges observed by the Coordinator, by outcome",
		},
		[]string{"outcome"},
	)
)

func recordSnapshotVersion(workflowID string, version int) {
	snapshotVersion.WithLabelValues(workflowID).Set(float64(version))
}

func recordKnowledgeMerge(hadReferences bool) {
	if hadReferences {
		knowledgeCacheHits.WithLabelValues("merged").Inc()
		return
	}
	knowledgeCacheHits.WithLabelValues("empty").Inc()
}
