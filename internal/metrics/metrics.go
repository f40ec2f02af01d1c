// Package metrics exposes Prometheus collectors for the sync engine.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/huddle/internal/registry"
)

const namespace = "huddle"

// Broadcast outcomes.
const (
	BroadcastSent    = "sent"
	BroadcastFailed  = "failed"
	BroadcastSkipped = "skipped"
)

// Metrics defines the engine's Prometheus metrics.
type Metrics struct {
	passes          prometheus.Counter
	passErrors      prometheus.Counter
	passDuration    prometheus.Histogram
	membership      *prometheus.CounterVec
	currentPeers    prometheus.Gauge
	broadcasts      *prometheus.CounterVec
	broadcastBytes  prometheus.Histogram
	imports         prometheus.Counter
	importedRows    *prometheus.CounterVec
	skippedRows     *prometheus.CounterVec
	inboundMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes completed.",
		}),
		passErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Reconciliation passes that failed.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent in one reconciliation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		membership: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_transitions_total",
			Help:      "Peers that joined or left the active event.",
		}, []string{"transition"}),
		currentPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_peers",
			Help:      "Peers in the last presence snapshot.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "FULL_SYNC broadcasts by outcome.",
		}, []string{"outcome"}),
		broadcastBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_bytes",
			Help:      "Size of FULL_SYNC payloads.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
		imports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Replace-imports applied.",
		}),
		importedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_rows_total",
			Help:      "Rows inserted by replace-import.",
		}, []string{"kind"}),
		skippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_skipped_rows_total",
			Help:      "Rows replace-import could not insert.",
		}, []string{"kind"}),
		inboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.passes, m.passErrors, m.passDuration, m.membership, m.currentPeers,
		m.broadcasts, m.broadcastBytes, m.imports, m.importedRows, m.skippedRows,
		m.inboundMessages,
	)
	return m
}

// ObservePass records a completed reconciliation pass.
func (m *Metrics) ObservePass(joined, left, peers int, took time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(took.Seconds())
	m.membership.WithLabelValues("joined").Add(float64(joined))
	m.membership.WithLabelValues("left").Add(float64(left))
	m.currentPeers.Set(float64(peers))
}

// PassFailed records a failed reconciliation pass.
func (m *Metrics) PassFailed() {
	if m == nil {
		return
	}
	m.passErrors.Inc()
}

// ObserveBroadcast records a broadcast outcome and, when sent, its size.
func (m *Metrics) ObserveBroadcast(outcome string, size int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
	if outcome == BroadcastSent {
		m.broadcastBytes.Observe(float64(size))
	}
}

// ObserveImport records a replace-import result.
func (m *Metrics) ObserveImport(res registry.ImportResult) {
	if m == nil {
		return
	}
	m.imports.Inc()
	m.importedRows.WithLabelValues(string(registry.RowDevice)).Add(float64(res.Devices))
	m.importedRows.WithLabelValues(string(registry.RowEvent)).Add(float64(res.Events))
	m.importedRows.WithLabelValues(string(registry.RowConnection)).Add(float64(res.Connections))
	m.importedRows.WithLabelValues(string(registry.RowLog)).Add(float64(res.Logs))
	for _, s := range res.Skipped {
		m.skippedRows.WithLabelValues(string(s.Kind)).Inc()
	}
}

// ObserveInbound counts an inbound message by type tag ("plain" for untagged).
func (m *Metrics) ObserveInbound(kind string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(kind).Inc()
}
