package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics exposes counters/histograms for the analysis pipeline.
// A nil *PipelineMetrics is a valid no-op recorder.
type PipelineMetrics struct {
	eventsTotal        *prometheus.CounterVec
	reporterFlags      *prometheus.CounterVec
	coordinatorRuns    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	storagePercent     prometheus.Gauge
	cleanupsTotal      *prometheus.CounterVec
	cleanupRemoved     *prometheus.CounterVec
	inferenceLatency   *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Analyzed events by kind and outcome",
		}, []string{"kind", "outcome"}),
		reporterFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "pipeline",
			Name:      "reporter_flags_total",
			Help:      "Events flagged by each reporter",
		}, []string{"reporter"}),
		coordinatorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "pipeline",
			Name:      "coordinator_runs_total",
			Help:      "Coordinator runs, split by whether the deterministic fallback was used",
		}, []string{"fallback"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Guardian notification deliveries by channel and status",
		}, []string{"channel", "status"}),
		storagePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safeguard",
			Subsystem: "incidents",
			Name:      "storage_used_percent",
			Help:      "Incident store usage as a percent of the budget",
		}),
		cleanupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "incidents",
			Name:      "cleanups_total",
			Help:      "Cleanup passes by tier",
		}, []string{"tier"}),
		cleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeguard",
			Subsystem: "incidents",
			Name:      "cleanup_removed_total",
			Help:      "Incidents removed by cleanup, by tier",
		}, []string{"tier"}),
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safeguard",
			Subsystem: "inference",
			Name:      "call_latency_seconds",
			Help:      "Latency of inference calls by stage and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.eventsTotal,
		m.reporterFlags,
		m.coordinatorRuns,
		m.notificationsTotal,
		m.storagePercent,
		m.cleanupsTotal,
		m.cleanupRemoved,
		m.inferenceLatency,
	)
	return m
}

func (m *PipelineMetrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) ObserveReporterFlag(reporter string) {
	if m == nil {
		return
	}
	m.reporterFlags.WithLabelValues(reporter).Inc()
}

func (m *PipelineMetrics) ObserveCoordinator(fallback bool) {
	if m == nil {
		return
	}
	label := "false"
	if fallback {
		label = "true"
	}
	m.coordinatorRuns.WithLabelValues(label).Inc()
}

// ObserveNotification counts one channel result. Status is sent, simulated
// or failed.
func (m *PipelineMetrics) ObserveNotification(channel string, success, simulated bool) {
	if m == nil {
		return
	}
	status := "sent"
	switch {
	case !success:
		status = "failed"
	case simulated:
		status = "simulated"
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveStorage implements incidents.Observer.
func (m *PipelineMetrics) ObserveStorage(percentUsed float64) {
	if m == nil {
		return
	}
	m.storagePercent.Set(percentUsed)
}

// ObserveCleanup implements incidents.Observer.
func (m *PipelineMetrics) ObserveCleanup(tier string, removed int) {
	if m == nil {
		return
	}
	m.cleanupsTotal.WithLabelValues(tier).Inc()
	m.cleanupRemoved.WithLabelValues(tier).Add(float64(removed))
}

// ObserveInference matches inference.Observer.
func (m *PipelineMetrics) ObserveInference(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.inferenceLatency.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}
