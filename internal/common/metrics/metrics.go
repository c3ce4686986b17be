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

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_queries_total",
			Help: "Queries processed, by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_stage_duration_seconds",
			Help:    "Time spent in each orchestration stage",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	RetrievalProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_provider_calls_total",
			Help: "Retrieval provider invocations by outcome",
		},
		[]string{"provider", "status"},
	)

	ValidationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_outcomes_total",
			Help: "Structural and semantic validation outcomes",
		},
		[]string{"validator", "status"},
	)

	LLMGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_generation_duration_seconds",
			Help:    "LLM generation latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"model", "backend"},
	)

	LLMGenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_generation_tokens_total",
			Help: "Tokens produced by LLM generations",
		},
		[]string{"model", "backend"},
	)

	ConfigRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_refreshes_total",
			Help: "Configuration refresh attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)
)
