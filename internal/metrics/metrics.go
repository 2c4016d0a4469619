package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_runs_active",
		Help: "Currently in-flight diarization runs",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Total runs completed, by terminal status",
	}, []string{"status"})

	// StageDuration covers the orchestrator's own steps, labeled step1,
	// step1.5, step2, step3, step4-merge, step5-markdown, step6-text-analysis
	// and step7-scoring (§4.10, §4.12). The per-stem fan-out within STEP 3
	// is not recorded separately; it is part of the step3 observation.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_e2e_duration_seconds",
		Help:    "End-to-end latency from request received to final-result",
		Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage and error class",
	}, []string{"stage", "error_type"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cache_hits_total",
		Help: "Cache lookups by store and result",
	}, []string{"store", "result"})

	VendorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_vendor_retries_total",
		Help: "Retry attempts against an external vendor, by vendor name",
	}, []string{"vendor"})
)
