// Package metrics exposes Prometheus counters for the ingest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished source runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regsync",
		Name:      "runs_total",
		Help:      "Finished source runs by source and terminal status.",
	}, []string{"source", "status"})

	// RowsFetched counts rows fetched from connectors.
	RowsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regsync",
		Name:      "rows_fetched_total",
		Help:      "Rows fetched from source connectors.",
	}, []string{"source"})

	// GateRejections counts anchor-gate rejections by error code.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regsync",
		Name:      "gate_rejections_total",
		Help:      "Anchor gate rejections by source and error code.",
	}, []string{"source", "code"})

	// FieldDecisions counts merge-policy decisions.
	FieldDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regsync",
		Name:      "field_decisions_total",
		Help:      "Field merge decisions by decision kind.",
	}, []string{"decision"})
)
