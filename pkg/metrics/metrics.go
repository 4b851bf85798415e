// Package metrics provides Prometheus metrics for the grading service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus instruments for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Pipeline metrics
	sheetsProcessed      *prometheus.CounterVec
	registrationFailures prometheus.Counter
	questionsResolved    *prometheus.CounterVec
	classifierDecisions  *prometheus.CounterVec
	stageLatency         *prometheus.HistogramVec
	gradePercent         prometheus.Histogram

	// Operational health
	queueDepth    prometheus.Gauge
	queueCapacity prometheus.Gauge
	workersActive prometheus.Gauge

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Sheet processing outcomes for RecordSheetProcessed.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry keeps the default Go collector noise out of /metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager. Tests pass their own registry to
// avoid duplicate-registration panics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "omr",
		subsystem:        "grader",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.sheetsProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sheets_processed_total",
			Help:      "Total number of sheets run through the pipeline, by outcome",
		},
		[]string{"status"},
	)

	m.registrationFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "registration_failures_total",
		Help:      "Total number of sheets rejected because registration failed",
	})

	m.questionsResolved = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "questions_resolved_total",
			Help:      "Total number of questions resolved, by mark state",
		},
		[]string{"state"},
	)

	m.classifierDecisions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "classifier_decisions_total",
			Help:      "Total number of ambiguous questions sent to the classifier, by verdict",
		},
		[]string{"verdict"},
	)

	m.stageLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "stage_latency_milliseconds",
			Help:      "Pipeline stage latency in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"stage"},
	)

	m.gradePercent = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "grade_percent",
		Help:      "Distribution of graded sheet percentages",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Current number of sheets waiting in the processing queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum processing queue capacity",
	})

	m.workersActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "workers_active",
		Help:      "Number of workers currently processing a sheet",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status",
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

// Manager methods, used where a component holds its own instance.

// RecordSheetProcessed counts one finished pipeline run.
func (m *Manager) RecordSheetProcessed(status string) {
	m.sheetsProcessed.WithLabelValues(status).Inc()
}

// RecordRegistrationFailure counts a sheet rejected at registration.
func (m *Manager) RecordRegistrationFailure() {
	m.registrationFailures.Inc()
}

// RecordQuestions counts n questions landing in the given mark state.
func (m *Manager) RecordQuestions(state string, n int) {
	if n <= 0 {
		return
	}
	m.questionsResolved.WithLabelValues(state).Add(float64(n))
}

// RecordClassifierDecision counts one classifier verdict on an ambiguous row.
func (m *Manager) RecordClassifierDecision(accepted bool) {
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	m.classifierDecisions.WithLabelValues(verdict).Inc()
}

// RecordStageLatency records one pipeline stage duration in milliseconds.
func (m *Manager) RecordStageLatency(stage string, latencyMs float64) {
	m.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordGradePercent records one graded sheet's overall percentage.
func (m *Manager) RecordGradePercent(percent float64) {
	m.gradePercent.Observe(percent)
}

// UpdateQueueDepth sets the current queue backlog.
func (m *Manager) UpdateQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// UpdateQueueCapacity sets the queue capacity.
func (m *Manager) UpdateQueueCapacity(n int) {
	m.queueCapacity.Set(float64(n))
}

// UpdateWorkersActive sets the number of busy workers.
func (m *Manager) UpdateWorkersActive(n int) {
	m.workersActive.Set(float64(n))
}

// RecordHTTPRequest counts one HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string) {
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records one HTTP request duration in milliseconds.
func (m *Manager) RecordHTTPRequestDuration(endpoint, method, statusCode string, latencyMs float64) {
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(latencyMs)
}

// Package-level helpers over the global manager.

func RecordSheetProcessed(status string)          { globalManager.RecordSheetProcessed(status) }
func RecordRegistrationFailure()                  { globalManager.RecordRegistrationFailure() }
func RecordQuestions(state string, n int)         { globalManager.RecordQuestions(state, n) }
func RecordClassifierDecision(accepted bool)      { globalManager.RecordClassifierDecision(accepted) }
func RecordStageLatency(stage string, ms float64) { globalManager.RecordStageLatency(stage, ms) }
func RecordGradePercent(percent float64)          { globalManager.RecordGradePercent(percent) }
func UpdateQueueDepth(n int)                      { globalManager.UpdateQueueDepth(n) }
func UpdateQueueCapacity(n int)                   { globalManager.UpdateQueueCapacity(n) }
func UpdateWorkersActive(n int)                   { globalManager.UpdateWorkersActive(n) }

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode)
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, latencyMs float64) {
	globalManager.RecordHTTPRequestDuration(endpoint, method, statusCode, latencyMs)
}

// GetRegistry returns the registry backing the global manager, for the
// /metrics HTTP handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
