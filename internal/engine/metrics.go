package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskforge_tasks_in_progress",
			Help: "Number of tasks currently executing in this process's worker pool.",
		},
	)

	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_task_transitions_total",
			Help: "Total number of applied task status transitions, by entered status.",
		},
		[]string{"status"},
	)

	taskProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskforge_task_processing_seconds",
			Help:    "Time tasks spend in_progress before reaching a terminal status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	admissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_admission_rejections_total",
			Help: "Total number of rejected processing requests, by reason.",
		},
		[]string{"reason"},
	)

	admissionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskforge_admission_queue_depth",
			Help: "Number of processing requests waiting in the admission queue.",
		},
	)
)

// Rejection reason label values.
const (
	rejectionAlreadyProcessing = "already_processing"
	rejectionNotEligible       = "not_eligible"
	rejectionBusy              = "busy"
	rejectionShuttingDown      = "shutting_down"
)

func init() {
	prometheus.MustRegister(tasksInProgress)
	prometheus.MustRegister(taskTransitionsTotal)
	prometheus.MustRegister(taskProcessingDuration)
	prometheus.MustRegister(admissionRejectionsTotal)
	prometheus.MustRegister(admissionQueueDepth)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, status := range []string{"pending", "in_progress", "completed", "failed"} {
		taskTransitionsTotal.WithLabelValues(status)
	}
	for _, reason := range []string{
		rejectionAlreadyProcessing,
		rejectionNotEligible,
		rejectionBusy,
		rejectionShuttingDown,
	} {
		admissionRejectionsTotal.WithLabelValues(reason)
	}
}
