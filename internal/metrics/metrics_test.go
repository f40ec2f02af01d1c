package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/huddle/internal/registry"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePass(1, 1, 1, time.Millisecond)
		m.PassFailed()
		m.ObserveBroadcast(BroadcastSent, 10)
		m.ObserveImport(registry.ImportResult{Devices: 1})
		m.ObserveInbound("plain")
	})
}

func TestObservePass(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePass(2, 1, 3, time.Millisecond)
	m.ObservePass(0, 1, 2, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.membership.WithLabelValues("joined")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.membership.WithLabelValues("left")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.currentPeers))
}

func TestObserveImport(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveImport(registry.ImportResult{
		Devices: 2,
		Logs:    3,
		Skipped: []registry.SkippedRow{{Kind: registry.RowConnection, Key: "E1/x"}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.importedRows.WithLabelValues("device")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.importedRows.WithLabelValues("log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedRows.WithLabelValues("connection")))
}

func TestObserveBroadcast(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBroadcast(BroadcastSent, 512)
	m.ObserveBroadcast(BroadcastFailed, 0)
	m.ObserveBroadcast(BroadcastFailed, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues(BroadcastSent)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues(BroadcastFailed)))
}
