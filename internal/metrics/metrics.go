// Package metrics defines the Prometheus instrumentation exported at /metrics: batch lifecycle counts, upload
// pipeline timings, and the two scheduler tasks' tick outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchesStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataforge_batches_started_total",
			Help: "Total number of batches started",
		},
	)

	BatchesTransitionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataforge_batches_transitioned_total",
			Help: "Total number of batch state transitions by resulting status",
		},
		[]string{"status"},
	)

	BatchesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataforge_batches_reaped_total",
			Help: "Total number of batches transitioned to NOT_COMPLETED by the timeout reaper",
		},
	)

	UploadPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataforge_upload_phase_duration_seconds",
			Help:    "Duration of each upload pipeline phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataforge_uploads_total",
			Help: "Total number of per-file upload attempts by outcome",
		},
		[]string{"outcome"},
	)

	UploadObjectStorePutRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataforge_upload_object_store_put_retries_total",
			Help: "Total number of Phase B object store PUT retries across all uploads",
		},
	)

	ErrorLogsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataforge_error_logs_written_total",
			Help: "Total number of error log entries written, by whether they carry a batch id",
		},
		[]string{"scope"},
	)

	PartitionMaintainerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataforge_partition_maintainer_runs_total",
			Help: "Total number of partition-maintainer ticks by outcome",
		},
		[]string{"outcome"},
	)

	ReaperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataforge_reaper_runs_total",
			Help: "Total number of batch-timeout-reaper ticks by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesStartedTotal,
		BatchesTransitionedTotal,
		BatchesReapedTotal,
		UploadPhaseDuration,
		UploadsTotal,
		UploadObjectStorePutRetriesTotal,
		ErrorLogsWrittenTotal,
		PartitionMaintainerRunsTotal,
		ReaperRunsTotal,
	)
}

// Handler returns the Prometheus exposition HTTP handler mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
