// Package metrics exposes the per-peer traffic counters and timing
// data the node already tracks internally as Prometheus
// instrumentation, grounded on pphaneuf-trillian's dependency on
// github.com/prometheus/client_golang for its own Merkle-tree-backed
// transparency log server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the node's Prometheus collectors. A nil *Metrics is
// valid and every method is a no-op against it, so callers that don't
// care about metrics can pass nil rather than threading an interface
// through every constructor.
type Metrics struct {
	RecordsSent     prometheus.Counter
	RecordsReceived *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
	BatchSize       prometheus.Histogram
	RootRecomputes  prometheus.Counter
	ActivePeers     prometheus.Gauge
}

// New creates and registers the node's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshsync_records_sent_total",
			Help: "Total records sent to peers in RECORDS responses.",
		}),
		RecordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshsync_records_received_total",
			Help: "Total records admitted into the store, by peer.",
		}, []string{"peer"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshsync_sync_duration_seconds",
			Help:    "Time from a root-hash mismatch to the peer returning to Idle.",
			Buckets: prometheus.DefBuckets,
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshsync_batch_size",
			Help:    "Size of flushed REQUEST_RECORDS batches.",
			Buckets: []float64{1, 2, 5, 10, 25, 50},
		}),
		RootRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshsync_root_recompute_total",
			Help: "Total debounced Merkle root recomputations performed.",
		}),
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshsync_active_peers",
			Help: "Number of peers currently known to the orchestrator.",
		}),
	}
	reg.MustRegister(m.RecordsSent, m.RecordsReceived, m.SyncDuration, m.BatchSize, m.RootRecomputes, m.ActivePeers)
	return m
}

// RecordsSentBy increments the sent-records counter by n.
func (m *Metrics) RecordsSentBy(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsSent.Add(float64(n))
}

// RecordsReceivedFrom increments the received-records counter for peer
// by n.
func (m *Metrics) RecordsReceivedFrom(peer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsReceived.WithLabelValues(peer).Add(float64(n))
}

// ObserveSyncDuration records how long a full sync cycle took.
func (m *Metrics) ObserveSyncDuration(seconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(seconds)
}

// ObserveBatchSize records the size of a flushed record-request batch.
func (m *Metrics) ObserveBatchSize(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

// IncRootRecompute counts one debounced root recomputation.
func (m *Metrics) IncRootRecompute() {
	if m == nil {
		return
	}
	m.RootRecomputes.Inc()
}

// SetActivePeers sets the current peer-count gauge.
func (m *Metrics) SetActivePeers(n int) {
	if m == nil {
		return
	}
	m.ActivePeers.Set(float64(n))
}
