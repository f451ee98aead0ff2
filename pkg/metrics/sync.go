package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for processed queue entries.
const (
	ResultSynced     = "synced"
	ResultFailed     = "failed"
	ResultSuperseded = "superseded"
	ResultLost       = "lost_claim"
)

// SyncMetrics instruments the outbound reconciler.
type SyncMetrics struct {
	processed *prometheus.CounterVec
	duration  prometheus.Histogram
	depth     *prometheus.GaugeVec
	inbound   *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_entries_processed_total",
		Help: "Queue entries processed by the reconciler.",
	}, []string{"action", "result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_entry_duration_seconds",
		Help:    "Time spent applying one queue entry to the replica.",
		Buckets: prometheus.DefBuckets,
	})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Queue entries by status.",
	}, []string{"status"})
	inbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_inbound_items_total",
		Help: "Inbound items by outcome.",
	}, []string{"status"})
	reg.MustRegister(processed, duration, depth, inbound)
	return &SyncMetrics{
		processed: processed,
		duration:  duration,
		depth:     depth,
		inbound:   inbound,
	}
}

func (m *SyncMetrics) ObserveEntry(action, result string, took time.Duration) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *SyncMetrics) SetDepth(status string, count int64) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.WithLabelValues(normalizeLabel(status)).Set(float64(count))
}

func (m *SyncMetrics) IncInbound(status string) {
	if m == nil || m.inbound == nil {
		return
	}
	m.inbound.WithLabelValues(normalizeLabel(status)).Inc()
}
