// Prometheus-backed collectors for scrape-based monitoring. The in-process
// Registry remains the lightweight default; this exporter mirrors the scan
// lifecycle metrics into a prometheus.Registry for an external scrape
// endpoint or pushgateway.

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all scanward metrics.
	namespace = "scanward"

	subsystemScan      = "scan"
	subsystemScheduler = "scheduler"
	subsystemNotify    = "notify"
	subsystemTasks     = "tasks"
)

// PrometheusMetrics holds all Prometheus metric collectors.
type PrometheusMetrics struct {
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec
	activeScans  prometheus.Gauge

	scheduleFires   *prometheus.CounterVec
	scansCleanedUp  prometheus.Counter
	activeSchedules prometheus.Gauge

	notificationsSent   *prometheus.CounterVec
	notificationsFailed prometheus.Counter

	activeTasks prometheus.Gauge
	taskPanics  prometheus.Counter

	startTime time.Time
	mu        sync.RWMutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by scanner kind and terminal status",
		},
		[]string{"scanner", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan executions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"scanner"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by scanner kind",
		},
		[]string{"scanner"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scans currently running",
		},
	)

	pm.scheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "fires_total",
			Help:      "Total number of schedule dispatches by scanner kind",
		},
		[]string{"scanner"},
	)

	pm.scansCleanedUp = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "scans_cleaned_up_total",
			Help:      "Total number of scans removed by retention cleanup",
		},
	)

	pm.activeSchedules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "schedules_active",
			Help:      "Number of schedules with a registered cron entry",
		},
	)

	pm.notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemNotify,
			Name:      "sent_total",
			Help:      "Total number of notification emails sent by scanner kind",
		},
		[]string{"scanner"},
	)

	pm.notificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemNotify,
			Name:      "failed_total",
			Help:      "Total number of notification delivery failures",
		},
	)

	pm.activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTasks,
			Name:      "active",
			Help:      "Number of supervised background tasks in flight",
		},
	)

	pm.taskPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTasks,
			Name:      "panics_total",
			Help:      "Total number of panics recovered at the task boundary",
		},
	)

	registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scanErrors,
		pm.activeScans,
		pm.scheduleFires,
		pm.scansCleanedUp,
		pm.activeSchedules,
		pm.notificationsSent,
		pm.notificationsFailed,
		pm.activeTasks,
		pm.taskPanics,
	)

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// Registry returns the underlying Prometheus registry for exposition.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordScanCompleted records a terminal scan transition.
func (pm *PrometheusMetrics) RecordScanCompleted(scanner, status string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(scanner, status).Inc()
	pm.scanDuration.WithLabelValues(scanner).Observe(duration.Seconds())
}

// RecordScanError records an adapter-level failure.
func (pm *PrometheusMetrics) RecordScanError(scanner string) {
	pm.scanErrors.WithLabelValues(scanner).Inc()
}

// SetActiveScans sets the in-flight scan gauge.
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// RecordScheduleFire records a schedule dispatch.
func (pm *PrometheusMetrics) RecordScheduleFire(scanner string) {
	pm.scheduleFires.WithLabelValues(scanner).Inc()
}

// RecordCleanup records the number of scans removed by retention cleanup.
func (pm *PrometheusMetrics) RecordCleanup(count int) {
	pm.scansCleanedUp.Add(float64(count))
}

// SetActiveSchedules sets the registered-schedule gauge.
func (pm *PrometheusMetrics) SetActiveSchedules(count int) {
	pm.activeSchedules.Set(float64(count))
}

// RecordNotificationSent records a delivered notification.
func (pm *PrometheusMetrics) RecordNotificationSent(scanner string) {
	pm.notificationsSent.WithLabelValues(scanner).Inc()
}

// RecordNotificationFailure records a failed notification delivery.
func (pm *PrometheusMetrics) RecordNotificationFailure() {
	pm.notificationsFailed.Inc()
}

// SetActiveTasks sets the supervised task gauge.
func (pm *PrometheusMetrics) SetActiveTasks(count int) {
	pm.activeTasks.Set(float64(count))
}

// RecordTaskPanic records a recovered panic.
func (pm *PrometheusMetrics) RecordTaskPanic() {
	pm.taskPanics.Inc()
}

// Uptime returns the time since the metrics instance was created.
func (pm *PrometheusMetrics) Uptime() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return time.Since(pm.startTime)
}

// Exporter bridge. When set, every update recorded through the default
// registry's package-level helpers is mirrored into the Prometheus
// collectors.
var (
	exporterMu sync.RWMutex
	exporter   *PrometheusMetrics
)

// SetExporter installs the Prometheus exporter that mirrors default-registry
// updates. Pass nil to detach.
func SetExporter(pm *PrometheusMetrics) {
	exporterMu.Lock()
	exporter = pm
	exporterMu.Unlock()
}

func currentExporter() *PrometheusMetrics {
	exporterMu.RLock()
	defer exporterMu.RUnlock()
	return exporter
}

// forwardMetric mirrors one update into the exporter, if attached. Names
// outside the predefined set are registry-local and not exported.
func forwardMetric(name string, value float64, labels Labels) {
	pm := currentExporter()
	if pm == nil {
		return
	}

	switch name {
	case MetricScansTotal:
		pm.scansTotal.WithLabelValues(labels[LabelScanner], labels[LabelStatus]).Inc()
	case MetricScanDuration:
		pm.scanDuration.WithLabelValues(labels[LabelScanner]).Observe(value)
	case MetricScanErrors:
		pm.scanErrors.WithLabelValues(labels[LabelScanner]).Inc()
	case MetricActiveScans:
		pm.activeScans.Set(value)
	case MetricScheduleFires:
		pm.scheduleFires.WithLabelValues(labels[LabelScanner]).Inc()
	case MetricScansCleanedUp:
		pm.scansCleanedUp.Add(value)
	case MetricActiveSchedules:
		pm.activeSchedules.Set(value)
	case MetricNotificationsSent:
		pm.notificationsSent.WithLabelValues(labels[LabelScanner]).Inc()
	case MetricNotificationsFailed:
		pm.notificationsFailed.Inc()
	case MetricTasksActive:
		pm.activeTasks.Set(value)
	case MetricTaskPanics:
		pm.taskPanics.Inc()
	}
}
