// Package metrics provides Prometheus metrics for the waggle dance bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the bridge.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Event intake
	wagglesReceived *prometheus.CounterVec
	wagglesDropped  *prometheus.CounterVec
	eventLatency    prometheus.Histogram
	sessionsActive  prometheus.Gauge

	// Dance clustering
	dancesOpen    *prometheus.GaugeVec
	danceTriggers *prometheus.CounterVec

	// Experiment policy
	policyDecisions *prometheus.CounterVec

	// Comb connector
	combMessages     *prometheus.CounterVec
	combConnected    prometheus.Gauge
	combWriteLatency prometheus.Histogram
	actuatorsActive  prometheus.Gauge

	// Queues
	queueSize        *prometheus.GaugeVec
	queueCapacity    *prometheus.GaugeVec
	queueUtilization *prometheus.GaugeVec
	queueRejected    *prometheus.CounterVec

	// Sun
	azimuthDegrees prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "wdd",
		subsystem:        "bridge",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.wagglesReceived = m.counterVec("waggles_received_total",
		"Total number of waggle detections accepted from event sources", "camera")
	m.wagglesDropped = m.counterVec("waggles_dropped_total",
		"Total number of waggle records dropped before clustering", "reason")
	m.eventLatency = m.histogram("waggle_delivery_latency_seconds",
		"Delay between detection and arrival at the bridge",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
	m.sessionsActive = m.gauge("sessions_active", "Number of connected event source sessions")

	m.dancesOpen = m.gaugeVec("dances_open", "Number of open dances per camera", "camera")
	m.danceTriggers = m.counterVec("dance_triggers_total",
		"Total number of dance triggers emitted by the detector", "camera")

	m.policyDecisions = m.counterVec("policy_decisions_total",
		"Experiment policy outcomes", "decision")

	m.combMessages = m.counterVec("comb_messages_total",
		"Comb messages by outcome (sent, hold_extended, deactivation_skipped, dropped)", "outcome")
	m.combConnected = m.gauge("comb_connected", "1 while the comb bus is connected")
	m.combWriteLatency = m.histogram("comb_write_latency_milliseconds",
		"Time spent writing one paced command to the bus", m.histogramBuckets)
	m.actuatorsActive = m.gauge("actuators_active", "Number of actuators currently held active")

	m.queueSize = m.gaugeVec("queue_size", "Current queue length", "queue")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Maximum queue length", "queue")
	m.queueUtilization = m.gaugeVec("queue_utilization_ratio", "Queue length / capacity", "queue")
	m.queueRejected = m.counterVec("queue_rejected_total", "Enqueue attempts rejected", "queue", "reason")

	m.azimuthDegrees = m.gauge("sun_azimuth_degrees", "Latest sun azimuth in the bridge's angle convention")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordWaggleReceived counts an accepted waggle for a camera.
func RecordWaggleReceived(camera string) {
	globalManager.wagglesReceived.WithLabelValues(camera).Inc()
}

// RecordWaggleDropped counts a dropped waggle record.
func RecordWaggleDropped(reason string) {
	globalManager.wagglesDropped.WithLabelValues(reason).Inc()
}

// RecordEventLatency observes detection-to-bridge latency in seconds.
func RecordEventLatency(seconds float64) {
	globalManager.eventLatency.Observe(seconds)
}

// AddSessions adjusts the active session gauge.
func AddSessions(delta int) {
	globalManager.sessionsActive.Add(float64(delta))
}

// UpdateDancesOpen sets the number of open dances for a camera.
func UpdateDancesOpen(camera string, count int) {
	globalManager.dancesOpen.WithLabelValues(camera).Set(float64(count))
}

// RecordDanceTrigger counts a trigger emitted for a camera.
func RecordDanceTrigger(camera string) {
	globalManager.danceTriggers.WithLabelValues(camera).Inc()
}

// RecordPolicyDecision counts an experiment policy outcome.
func RecordPolicyDecision(decision string) {
	globalManager.policyDecisions.WithLabelValues(decision).Inc()
}

// RecordCombMessage counts a comb message outcome.
func RecordCombMessage(outcome string) {
	globalManager.combMessages.WithLabelValues(outcome).Inc()
}

// UpdateCombConnected sets the connector link gauge.
func UpdateCombConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	globalManager.combConnected.Set(v)
}

// RecordCombWriteLatency observes the time taken to pace one command out.
func RecordCombWriteLatency(latencyMs float64) {
	globalManager.combWriteLatency.Observe(latencyMs)
}

// UpdateActuatorsActive sets the number of actuators held active.
func UpdateActuatorsActive(count int) {
	globalManager.actuatorsActive.Set(float64(count))
}

// UpdateQueueSize sets the current queue length and utilization.
func UpdateQueueSize(queue string, size, capacity int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.WithLabelValues(queue).Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(queue string, capacity int) {
	globalManager.queueCapacity.WithLabelValues(queue).Set(float64(capacity))
}

// RecordQueueRejected counts an enqueue attempt that failed.
func RecordQueueRejected(queue, reason string) {
	globalManager.queueRejected.WithLabelValues(queue, reason).Inc()
}

// UpdateAzimuth records the latest sun azimuth in degrees.
func UpdateAzimuth(degrees float64) {
	globalManager.azimuthDegrees.Set(degrees)
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent increments the error counter for a specific component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

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
