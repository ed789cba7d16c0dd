package manager

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	observations  *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	evictions     prometheus.Counter
	cleaned       prometheus.Counter
	reports       *prometheus.CounterVec
	flushDuration prometheus.Histogram

	nodes        prometheus.GaugeFunc
	devices      prometheus.GaugeFunc
	flows        prometheus.GaugeFunc
	blockedPairs prometheus.GaugeFunc
	merges       prometheus.CounterFunc
	macConflicts prometheus.CounterFunc
}

func newMetrics(m *Manager) *metrics {
	return &metrics{
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gonodes_observations_total",
				Help: "Observations processed, by message type.",
			},
			[]string{"type"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gonodes_observations_skipped_total",
				Help: "Observations dropped before reaching the node cache, by reason.",
			},
			[]string{"reason"},
		),
		decodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gonodes_decode_errors_total",
				Help: "Wire messages that could not be decoded.",
			},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gonodes_device_flow_evictions_total",
				Help: "Device flow entries evicted after being idle too long.",
			},
		),
		cleaned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gonodes_nodes_cleaned_total",
				Help: "Stale nodes removed from the cache.",
			},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gonodes_reports_written_total",
				Help: "Traffic reports handed to writers, by writer and result.",
			},
			[]string{"writer", "result"},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gonodes_flush_duration_seconds",
				Help:    "Time spent building a traffic report.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		nodes: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gonodes_nodes",
				Help: "Nodes currently in the cache.",
			},
			func() float64 {
				m.mu.RLock()
				defer m.mu.RUnlock()
				return float64(m.cache.Len())
			},
		),
		devices: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gonodes_devices",
				Help: "Nodes with a device flow table.",
			},
			func() float64 {
				m.mu.RLock()
				defer m.mu.RUnlock()
				return float64(len(m.cache.Devices()))
			},
		),
		flows: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gonodes_pending_flows",
				Help: "Flows accumulated since the last report.",
			},
			func() float64 { return float64(m.flows.GetFlowCount()) },
		),
		blockedPairs: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gonodes_blocked_pairs",
				Help: "Node pairs whose traffic is blocked.",
			},
			func() float64 {
				m.mu.RLock()
				defer m.mu.RUnlock()
				return float64(m.ledger.Len())
			},
		),
		merges: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "gonodes_node_merges_total",
				Help: "Nodes merged because they turned out to share a key.",
			},
			func() float64 {
				m.mu.RLock()
				defer m.mu.RUnlock()
				return float64(m.cache.Stats().Merges)
			},
		),
		macConflicts: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "gonodes_mac_conflicts_total",
				Help: "Merges between nodes carrying different MACs.",
			},
			func() float64 {
				m.mu.RLock()
				defer m.mu.RUnlock()
				return float64(m.cache.Stats().MACConflicts)
			},
		),
	}
}

func (mt *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		mt.observations,
		mt.skipped,
		mt.decodeErrors,
		mt.evictions,
		mt.cleaned,
		mt.reports,
		mt.flushDuration,
		mt.nodes,
		mt.devices,
		mt.flows,
		mt.blockedPairs,
		mt.merges,
		mt.macConflicts,
	)
	slog.Info("Prometheus metrics registered")
}
