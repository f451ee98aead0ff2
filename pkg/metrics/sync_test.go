package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSyncMetricsRecordEntriesAndDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)
	m.ObserveEntry("create", ResultSynced, 20*time.Millisecond)
	m.ObserveEntry("create", ResultSynced, 10*time.Millisecond)
	m.ObserveEntry("delete", ResultFailed, time.Millisecond)
	m.SetDepth("pending", 7)
	m.IncInbound("conflict")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	processed := findMetricFamily(mfs, "sync_entries_processed_total")
	if processed == nil {
		t.Fatal("processed counter missing")
	}
	var synced float64
	for _, metric := range processed.GetMetric() {
		if matchesLabel(metric.GetLabel(), "action", "create") && matchesLabel(metric.GetLabel(), "result", ResultSynced) {
			synced = metric.GetCounter().GetValue()
		}
	}
	if synced != 2 {
		t.Fatalf("expected 2 synced creates, got %f", synced)
	}

	depth := findMetricFamily(mfs, "sync_queue_depth")
	if depth == nil || gaugeFor(depth, "status", "pending") != 7 {
		t.Fatal("expected pending depth 7")
	}

	hist := findMetricFamily(mfs, "sync_entry_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 3 {
		t.Fatal("expected three duration samples")
	}

	if got, err := fetchCounterValue(mfs, "sync_inbound_items_total", "status", "conflict"); err != nil || got != 1 {
		t.Fatalf("expected one inbound conflict, got %f (%v)", got, err)
	}
}

func TestSyncMetricsNilSafe(t *testing.T) {
	var m *SyncMetrics
	m.ObserveEntry("update", ResultSynced, time.Second)
	m.SetDepth("failed", 1)
	NewSyncMetrics(nil).IncInbound("applied")
}

func gaugeFor(mf *dto.MetricFamily, label, value string) float64 {
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetGauge().GetValue()
		}
	}
	return -1
}
