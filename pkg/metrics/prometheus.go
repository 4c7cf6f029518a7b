// Package metrics provides Prometheus metrics for the adaptation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the adaptation engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core business metrics - the detection pipeline
	detectionsRun     prometheus.Counter
	detectionsSkipped *prometheus.CounterVec
	proposalsCreated  *prometheus.CounterVec
	guardVetoes       *prometheus.CounterVec
	detectionLatency  prometheus.Histogram

	// Approval state machine metrics
	approvals       prometheus.Counter
	declines        prometheus.Counter
	rollbacks       prometheus.Counter
	autoApplies     prometheus.Counter
	statusConflicts prometheus.Counter

	// Ingestion metrics
	metricsIngested  prometheus.Counter
	ingestRejections prometheus.Counter

	// Notification metrics
	notificationsSent  prometheus.Counter
	notificationErrors prometheus.Counter

	// Operational health metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueDequeues    prometheus.Counter
	queueErrors      prometheus.Counter
	workerCount      prometheus.Gauge
	workerErrors     prometheus.Counter
	usersTracked     prometheus.Gauge

	// HTTP performance metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "adapt",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.detectionsRun = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "detections_run_total",
		Help:      "Total number of per-user detection cycles executed",
	})

	m.detectionsSkipped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "detections_skipped_total",
			Help:      "Detection cycles that ended in a no-op, by skip reason",
		},
		[]string{"reason"},
	)

	m.proposalsCreated = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "proposals_created_total",
			Help:      "Proposals persisted, by adaptation type",
		},
		[]string{"type"},
	)

	m.guardVetoes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "guard_vetoes_total",
			Help:      "Safety-guard vetoes, by reason",
		},
		[]string{"reason"},
	)

	m.detectionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "detection_latency_milliseconds",
		Help:      "Histogram of per-user detection latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.approvals = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "approvals_total",
		Help:      "Proposals approved and applied to the live target",
	})

	m.declines = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "declines_total",
		Help:      "Proposals declined without touching the live target",
	})

	m.rollbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rollbacks_total",
		Help:      "Applied proposals rolled back inside the rollback window",
	})

	m.autoApplies = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "auto_applies_total",
		Help:      "Proposals applied without review via trusted auto-apply",
	})

	m.statusConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "status_conflicts_total",
		Help:      "Compare-and-set conflicts on proposal status transitions",
	})

	m.metricsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "metric_records_ingested_total",
		Help:      "Daily metric records accepted by the ingestor",
	})

	m.ingestRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "metric_records_rejected_total",
		Help:      "Daily metric records rejected for out-of-range values",
	})

	m.notificationsSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_sent_total",
		Help:      "Coach messages handed to the delivery collaborator",
	})

	m.notificationErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notification_errors_total",
		Help:      "Failed hand-offs to the delivery collaborator",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the detection job queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the detection job queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization",
		Help:      "Queue fill ratio between 0 and 1",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueues_total",
		Help:      "Detection jobs enqueued",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeues_total",
		Help:      "Detection jobs handed to workers",
	})

	m.queueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_errors_total",
		Help:      "Enqueue failures (queue closed or full)",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of detection workers in the pool",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Detection jobs that failed in a worker",
	})

	m.usersTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "users_tracked",
		Help:      "Users with a profile known to the engine",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)
}

// GetRegistry returns the custom Prometheus registry backing the global
// manager, for serving via promhttp.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers recording on the global manager.

// RecordDetectionRun counts one per-user detection cycle.
func RecordDetectionRun() { globalManager.detectionsRun.Inc() }

// RecordDetectionSkipped counts a no-op detection by reason.
func RecordDetectionSkipped(reason string) {
	globalManager.detectionsSkipped.WithLabelValues(reason).Inc()
}

// RecordProposalCreated counts a persisted proposal by adaptation type.
func RecordProposalCreated(adaptationType string) {
	globalManager.proposalsCreated.WithLabelValues(adaptationType).Inc()
}

// RecordGuardVeto counts a safety-guard veto by reason.
func RecordGuardVeto(reason string) {
	globalManager.guardVetoes.WithLabelValues(reason).Inc()
}

// RecordDetectionLatency observes one detection cycle's latency.
func RecordDetectionLatency(ms float64) { globalManager.detectionLatency.Observe(ms) }

// RecordApproval counts an approve that applied the target.
func RecordApproval() { globalManager.approvals.Inc() }

// RecordDecline counts a declined proposal.
func RecordDecline() { globalManager.declines.Inc() }

// RecordRollback counts a rollback inside the window.
func RecordRollback() { globalManager.rollbacks.Inc() }

// RecordAutoApply counts a trusted auto-apply.
func RecordAutoApply() { globalManager.autoApplies.Inc() }

// RecordStatusConflict counts a CAS conflict on a proposal transition.
func RecordStatusConflict() { globalManager.statusConflicts.Inc() }

// RecordMetricIngested counts an accepted daily metric record.
func RecordMetricIngested() { globalManager.metricsIngested.Inc() }

// RecordIngestRejection counts a record rejected at validation.
func RecordIngestRejection() { globalManager.ingestRejections.Inc() }

// RecordNotificationSent counts a coach message hand-off.
func RecordNotificationSent() { globalManager.notificationsSent.Inc() }

// RecordNotificationError counts a failed hand-off.
func RecordNotificationError() { globalManager.notificationErrors.Inc() }

// UpdateQueueSize sets the current queue size gauge.
func UpdateQueueSize(n int) { globalManager.queueSize.Set(float64(n)) }

// UpdateQueueCapacity sets the configured queue capacity gauge.
func UpdateQueueCapacity(n int) { globalManager.queueCapacity.Set(float64(n)) }

// UpdateQueueUtilization sets the queue fill ratio gauge.
func UpdateQueueUtilization(f float64) { globalManager.queueUtilization.Set(f) }

// RecordQueueEnqueue counts a job enqueued.
func RecordQueueEnqueue() { globalManager.queueEnqueues.Inc() }

// RecordQueueDequeue counts a job handed to a worker.
func RecordQueueDequeue() { globalManager.queueDequeues.Inc() }

// RecordQueueError counts an enqueue failure.
func RecordQueueError() { globalManager.queueErrors.Inc() }

// UpdateWorkerCount sets the pool size gauge.
func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }

// RecordWorkerError counts a failed detection job.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// UpdateUsersTracked sets the tracked-users gauge.
func UpdateUsersTracked(n int) { globalManager.usersTracked.Set(float64(n)) }

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request's duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}
