// Package metrics provides Prometheus metrics for the evalstream service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the evalstream service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Job lifecycle
	jobsSubmitted    prometheus.Counter
	jobsFailed       *prometheus.CounterVec
	jobsCompleted    prometheus.Counter
	jobSubmitLatency prometheus.Histogram

	// Reconciliation
	batchesReceived   prometheus.Counter
	resultsApplied    prometheus.Counter
	resultsReplaced   prometheus.Counter
	resultsUnmatched  prometheus.Counter
	batchApplyLatency prometheus.Histogram
	rowsLoaded        prometheus.Gauge

	// Stream health
	streamState       prometheus.Gauge
	streamErrors      *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	parseErrors       prometheus.Counter
	replayedEvents    prometheus.Counter
	heartbeats        prometheus.Counter

	// Inbox (stream dispatcher queue)
	inboxSize     prometheus.Gauge
	inboxCapacity prometheus.Gauge
	inboxEnqueue  prometheus.Counter
	inboxDequeue  prometheus.Counter
	inboxDropped  *prometheus.CounterVec

	// Session and reliability snapshot
	progressPercent  prometheus.Gauge
	processingRate   prometheus.Gauge
	etaSeconds       prometheus.Gauge
	icc              prometheus.Gauge
	validPairs       prometheus.Gauge
	meanAbsDeviation prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Job submission waits on the remote API, so its latencies span 50ms to ~50s.
var submitLatencyBuckets = prometheus.ExponentialBuckets(0.05, 2, 11) //nolint:gochecknoglobals // bucket layout

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(
		WithPrometheusRegistry(customRegistry),
		WithHistogramBuckets(submitLatencyBuckets),
	)
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "evalstream",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts(m.counterOpts(name, help))
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if len(buckets) == 0 {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.jobsSubmitted = auto.NewCounter(m.counterOpts("jobs_submitted_total", "Evaluation jobs accepted by the remote API"))
	m.jobsFailed = auto.NewCounterVec(m.counterOpts("jobs_failed_total", "Jobs that ended in a failure, by kind"), []string{"kind"})
	m.jobsCompleted = auto.NewCounter(m.counterOpts("jobs_completed_total", "Jobs that streamed a complete event"))
	m.jobSubmitLatency = auto.NewHistogram(m.histogramOpts("job_submit_latency_seconds", "Latency of job submission requests", nil))

	m.batchesReceived = auto.NewCounter(m.counterOpts("batches_received_total", "batch_complete events applied"))
	m.resultsApplied = auto.NewCounter(m.counterOpts("results_applied_total", "Model results merged into the store"))
	m.resultsReplaced = auto.NewCounter(m.counterOpts("results_replaced_total", "Model results that overwrote an earlier result for the same id"))
	m.resultsUnmatched = auto.NewCounter(m.counterOpts("results_unmatched_total", "Model results with no matching uploaded row"))
	m.batchApplyLatency = auto.NewHistogram(m.histogramOpts("batch_apply_latency_seconds", "Time to merge a batch and recompute metrics",
		[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}))
	m.rowsLoaded = auto.NewGauge(m.gaugeOpts("rows_loaded", "Uploaded rows currently held"))

	m.streamState = auto.NewGauge(m.gaugeOpts("stream_state", "Stream state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 closed)"))
	m.streamErrors = auto.NewCounterVec(m.counterOpts("stream_errors_total", "Errors surfaced by the stream, by kind"), []string{"kind"})
	m.reconnectAttempts = auto.NewCounter(m.counterOpts("reconnect_attempts_total", "Automatic and manual reconnect attempts"))
	m.parseErrors = auto.NewCounter(m.counterOpts("parse_errors_total", "Stream payloads that failed to decode"))
	m.replayedEvents = auto.NewCounter(m.counterOpts("replayed_events_total", "Stream events skipped because their id was already delivered"))
	m.heartbeats = auto.NewCounter(m.counterOpts("heartbeats_total", "Stream heartbeat comments received"))

	m.inboxSize = auto.NewGauge(m.gaugeOpts("inbox_size", "Pending stream signals in the dispatcher inbox"))
	m.inboxCapacity = auto.NewGauge(m.gaugeOpts("inbox_capacity", "Dispatcher inbox capacity"))
	m.inboxEnqueue = auto.NewCounter(m.counterOpts("inbox_enqueue_total", "Signals enqueued to the dispatcher inbox"))
	m.inboxDequeue = auto.NewCounter(m.counterOpts("inbox_dequeue_total", "Signals dequeued from the dispatcher inbox"))
	m.inboxDropped = auto.NewCounterVec(m.counterOpts("inbox_dropped_total", "Signals not enqueued, by reason"), []string{"reason"})

	m.progressPercent = auto.NewGauge(m.gaugeOpts("progress_percent", "Active job completion percentage"))
	m.processingRate = auto.NewGauge(m.gaugeOpts("processing_rate", "Items evaluated per second over the sample window"))
	m.etaSeconds = auto.NewGauge(m.gaugeOpts("eta_seconds", "Estimated seconds until the active job completes"))
	m.icc = auto.NewGauge(m.gaugeOpts("icc", "Current ICC(3,1) between model and human scores (-1 when unknown)"))
	m.validPairs = auto.NewGauge(m.gaugeOpts("valid_pairs", "Rows with both a model score and a human median"))
	m.meanAbsDeviation = auto.NewGauge(m.gaugeOpts("mean_abs_deviation", "Mean absolute deviation between model and human scores"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}), []string{"endpoint", "method", "status_code"})
	m.httpErrors = auto.NewCounterVec(m.counterOpts("http_errors_total", "HTTP error responses by endpoint and error type"),
		[]string{"endpoint", "method", "error_type", "severity"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Job lifecycle.

// RecordJobSubmitted increments the submitted jobs counter.
func RecordJobSubmitted() { globalManager.jobsSubmitted.Inc() }

// RecordJobFailed counts a failed job by failure kind.
func RecordJobFailed(kind string) { globalManager.jobsFailed.WithLabelValues(kind).Inc() }

// RecordJobCompleted increments the completed jobs counter.
func RecordJobCompleted() { globalManager.jobsCompleted.Inc() }

// RecordJobSubmitLatency records job submission latency in seconds.
func RecordJobSubmitLatency(seconds float64) { globalManager.jobSubmitLatency.Observe(seconds) }

// Reconciliation.

// RecordBatchApplied records one applied batch and its per-result outcome.
func RecordBatchApplied(applied, replaced, unmatched int, seconds float64) {
	globalManager.batchesReceived.Inc()
	globalManager.resultsApplied.Add(float64(applied))
	globalManager.resultsReplaced.Add(float64(replaced))
	globalManager.resultsUnmatched.Add(float64(unmatched))
	globalManager.batchApplyLatency.Observe(seconds)
}

// UpdateRowsLoaded sets the number of uploaded rows.
func UpdateRowsLoaded(n int) { globalManager.rowsLoaded.Set(float64(n)) }

// Stream health.

// UpdateStreamState sets the numeric stream state.
func UpdateStreamState(state int) { globalManager.streamState.Set(float64(state)) }

// RecordStreamError counts a surfaced stream error by kind.
func RecordStreamError(kind string) { globalManager.streamErrors.WithLabelValues(kind).Inc() }

// RecordReconnectAttempt increments the reconnect attempts counter.
func RecordReconnectAttempt() { globalManager.reconnectAttempts.Inc() }

// RecordParseError increments the parse error counter.
func RecordParseError() { globalManager.parseErrors.Inc() }

// RecordReplayedEvent increments the replayed events counter.
func RecordReplayedEvent() { globalManager.replayedEvents.Inc() }

// RecordHeartbeat increments the heartbeat counter.
func RecordHeartbeat() { globalManager.heartbeats.Inc() }

// Inbox.

// UpdateInboxSize sets the current inbox length.
func UpdateInboxSize(size int) { globalManager.inboxSize.Set(float64(size)) }

// UpdateInboxCapacity sets the inbox capacity.
func UpdateInboxCapacity(capacity int) { globalManager.inboxCapacity.Set(float64(capacity)) }

// RecordInboxEnqueue increments the enqueue counter.
func RecordInboxEnqueue() { globalManager.inboxEnqueue.Inc() }

// RecordInboxDequeue increments the dequeue counter.
func RecordInboxDequeue() { globalManager.inboxDequeue.Inc() }

// RecordInboxDropped counts a signal that could not be enqueued.
func RecordInboxDropped(reason string) { globalManager.inboxDropped.WithLabelValues(reason).Inc() }

// Session snapshot.

// UpdateProgress sets the progress gauges.
func UpdateProgress(percent int, rate, etaSeconds float64) {
	globalManager.progressPercent.Set(float64(percent))
	globalManager.processingRate.Set(rate)
	globalManager.etaSeconds.Set(etaSeconds)
}

// UpdateReliability sets the reliability gauges. A nil icc is exported as -1.
func UpdateReliability(icc *float64, validPairs int, meanAbsDeviation float64) {
	v := -1.0
	if icc != nil {
		v = *icc
	}
	globalManager.icc.Set(v)
	globalManager.validPairs.Set(float64(validPairs))
	globalManager.meanAbsDeviation.Set(meanAbsDeviation)
}

// HTTP.

// RecordHTTPRequest records an HTTP request with endpoint, method, and status code.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError records an error response.
func RecordHTTPError(endpoint, method, errorType, severity string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType, severity).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
