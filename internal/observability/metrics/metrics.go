package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "eponmon_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	cacheRefreshTotal   *prometheus.CounterVec
	cacheRefreshLatency *prometheus.HistogramVec

	snapshotDevices prometheus.Gauge
	snapshotEvents  prometheus.Gauge

	classificationsTotal *prometheus.CounterVec

	healthTransitionsTotal *prometheus.CounterVec

	notifyTotal *prometheus.CounterVec

	injectTotal *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		cacheRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_refresh_total",
				Help: "Total cache refresh cycles by outcome",
			},
			[]string{"outcome"},
		)
		cacheRefreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cache_refresh_latency_seconds",
				Help:    "Cache refresh cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		snapshotDevices = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "snapshot_devices",
				Help: "Devices present in the current telemetry snapshot",
			},
		)
		snapshotEvents = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "snapshot_events",
				Help: "Events present in the current telemetry snapshot",
			},
		)

		classificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "classifications_total",
				Help: "Total compliance classifications by health",
			},
			[]string{"health"},
		)

		healthTransitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "health_transitions_total",
				Help: "Total device health transitions by kind",
			},
			[]string{"kind"},
		)

		notifyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_total",
				Help: "Total health notifications by channel and result",
			},
			[]string{"channel", "result"},
		)

		injectTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "inject_total",
				Help: "Total injected telemetry records by scenario",
			},
			[]string{"scenario"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total fleet report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Fleet report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			cacheRefreshTotal,
			cacheRefreshLatency,
			snapshotDevices,
			snapshotEvents,
			classificationsTotal,
			healthTransitionsTotal,
			notifyTotal,
			injectTotal,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCacheRefresh records one refresh cycle outcome and duration.
func ObserveCacheRefresh(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if cacheRefreshTotal != nil {
		cacheRefreshTotal.WithLabelValues(outcome).Inc()
	}
	if cacheRefreshLatency != nil {
		cacheRefreshLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// SetSnapshotSize sets the device and event gauges for the current snapshot.
func SetSnapshotSize(devices, events int) {
	if snapshotDevices != nil {
		snapshotDevices.Set(float64(devices))
	}
	if snapshotEvents != nil {
		snapshotEvents.Set(float64(events))
	}
}

// IncClassification increments the classification counter for a health state.
func IncClassification(health string) {
	if health == "" {
		health = "unknown"
	}
	if classificationsTotal != nil {
		classificationsTotal.WithLabelValues(health).Inc()
	}
}

// IncHealthTransition increments the health transition counter.
func IncHealthTransition(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if healthTransitionsTotal != nil {
		healthTransitionsTotal.WithLabelValues(kind).Inc()
	}
}

// IncNotify increments notification counters per channel.
func IncNotify(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifyTotal != nil {
		notifyTotal.WithLabelValues(channel, result).Inc()
	}
}

// IncInject increments the injected record counter for a scenario.
func IncInject(scenario string) {
	if scenario == "" {
		scenario = "unknown"
	}
	if injectTotal != nil {
		injectTotal.WithLabelValues(scenario).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
