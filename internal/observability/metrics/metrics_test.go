package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPipelineMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveEvent("message", "threat")
	m.ObserveEvent("message", "threat")
	m.ObserveEvent("image", "safe")
	m.ObserveReporterFlag("text")
	m.ObserveCoordinator(true)

	events := gather(t, reg, "safeguard_pipeline_events_total")
	require.Len(t, events, 2)
	for _, e := range events {
		if labelValue(e, "kind") == "message" {
			assert.Equal(t, 2.0, e.GetCounter().GetValue())
		}
	}

	runs := gather(t, reg, "safeguard_pipeline_coordinator_runs_total")
	require.Len(t, runs, 1)
	assert.Equal(t, "true", labelValue(runs[0], "fallback"))
}

func TestPipelineMetrics_NotificationStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveNotification("email", true, false)
	m.ObserveNotification("sms", true, true)
	m.ObserveNotification("sms", false, true)

	got := map[string]float64{}
	for _, metric := range gather(t, reg, "safeguard_notify_deliveries_total") {
		got[labelValue(metric, "channel")+"/"+labelValue(metric, "status")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"email/sent": 1, "sms/simulated": 1, "sms/failed": 1}, got)
}

func TestPipelineMetrics_StorageAndCleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveStorage(42.5)
	m.ObserveCleanup("emergency", 12)

	gauge := gather(t, reg, "safeguard_incidents_storage_used_percent")
	require.Len(t, gauge, 1)
	assert.Equal(t, 42.5, gauge[0].GetGauge().GetValue())

	removed := gather(t, reg, "safeguard_incidents_cleanup_removed_total")
	require.Len(t, removed, 1)
	assert.Equal(t, 12.0, removed[0].GetCounter().GetValue())
}

func TestPipelineMetrics_InferenceLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveInference("text_report", 250*time.Millisecond, nil)
	m.ObserveInference("text_report", time.Second, errors.New("timeout"))

	hist := gather(t, reg, "safeguard_inference_call_latency_seconds")
	require.Len(t, hist, 2)
	for _, h := range hist {
		assert.Equal(t, uint64(1), h.GetHistogram().GetSampleCount())
	}
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveEvent("message", "safe")
	m.ObserveReporterFlag("text")
	m.ObserveCoordinator(false)
	m.ObserveNotification("email", true, true)
	m.ObserveStorage(1)
	m.ObserveCleanup("soft", 1)
	m.ObserveInference("x", time.Millisecond, nil)
}
