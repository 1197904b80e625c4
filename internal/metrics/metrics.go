// Package metrics exposes Prometheus collectors for ingestion and scoring.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "securepath"

// Registry holds every collector of the service.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// IngestRows counts rows by source and outcome (read, inserted, skipped, duplicate).
	IngestRows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "rows_total",
		Help:      "Rows seen by ingestion, by source and outcome.",
	}, []string{"source", "outcome"})

	// Decisions counts transactions decided by path (triage, scoring) and outcome.
	Decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "decisions_total",
		Help:      "Fraud decisions, by path and outcome.",
	}, []string{"path", "outcome"})

	// OperationDuration observes core operation latency.
	OperationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of ingest, scoring and triage operations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"operation", "status"})

	// JobsProcessed counts background jobs by type and final status.
	JobsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Background jobs by type and status.",
	}, []string{"type", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveSince records the duration of operation since start.
func ObserveSince(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
