// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Provider calls.
var (
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Provider HTTP calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Provider HTTP round trip duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 20, 30},
		},
		[]string{"endpoint"},
	)

	SnapshotPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_status_checks_total",
			Help: "Extraction job status checks by operation",
		},
		[]string{"operation"},
	)

	SnapshotJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_jobs_total",
			Help: "Extraction jobs by operation and terminal status",
		},
		[]string{"operation", "status"},
	)

	SourceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_results_total",
			Help: "Source adapter results by source and kind",
		},
		[]string{"source", "kind"},
	)
)

// Pipeline execution.
var (
	FanoutTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_tasks_total",
			Help: "Fan-out tasks by batch and settlement status",
		},
		[]string{"batch", "status"},
	)

	SelectionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selection_decisions_total",
			Help: "Discussion URL selections by reason",
		},
		[]string{"reason"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Stage duration including fallback resolution",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15, 20, 25, 45},
		},
		[]string{"stage"},
	)

	StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Stage outcomes: completed, fallback or fatal",
		},
		[]string{"stage", "outcome"},
	)

	ResearchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_total",
			Help: "Research requests by final status",
		},
		[]string{"status"},
	)
)
