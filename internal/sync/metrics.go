package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var canvasConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentcore_canvas_conflicts_total",
	Help: "Canvas changes rejected due to a stale version.",
}, []string{"workflow_id"})

var canvasApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentcore_canvas_changes_applied_total",
	Help: "Canvas changes successfully applied, by change type.",
}, []string{"change_type"})
