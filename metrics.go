package netpro

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Connection Statistics
// ============================================================================

// Stats is a point-in-time snapshot of a streaming client's counters.
// Fields that do not apply to a transport stay zero: an SSE client never
// sends messages, a WebSocket client never parses events.
type Stats struct {
	State            ConnState
	MessagesSent     uint64
	MessagesReceived uint64
	EventsReceived   uint64
	Reconnects       uint64
	ParseOverflows   uint64
	Queued           int
}

// StatsSource is anything that can report connection statistics. Both
// streaming clients implement it.
type StatsSource interface {
	URL() string
	Stats() Stats
}

// ── Prometheus Collector ────────────────────────────────────────────

// MetricsCollector exposes the statistics of registered streaming
// clients as Prometheus metrics, labeled by endpoint URL. Sources must
// have distinct URLs or gathering fails with duplicate descriptors.
type MetricsCollector struct {
	mu      sync.RWMutex
	sources []StatsSource

	state      *prometheus.Desc
	sent       *prometheus.Desc
	received   *prometheus.Desc
	events     *prometheus.Desc
	reconnects *prometheus.Desc
	overflows  *prometheus.Desc
	queued     *prometheus.Desc
}

// NewMetricsCollector builds a collector over the given sources. More
// can be added later with Register.
func NewMetricsCollector(sources ...StatsSource) *MetricsCollector {
	labels := []string{"url"}
	return &MetricsCollector{
		sources: sources,
		state: prometheus.NewDesc("netpro_connection_state",
			"Connection state: 0=disconnected 1=connecting 2=connected 3=disconnecting 4=reconnecting 5=failed.",
			labels, nil),
		sent: prometheus.NewDesc("netpro_messages_sent_total",
			"Messages written to the connection.",
			labels, nil),
		received: prometheus.NewDesc("netpro_messages_received_total",
			"Messages read from the connection.",
			labels, nil),
		events: prometheus.NewDesc("netpro_events_received_total",
			"Server-sent events dispatched to handlers.",
			labels, nil),
		reconnects: prometheus.NewDesc("netpro_reconnects_total",
			"Reconnect attempts started.",
			labels, nil),
		overflows: prometheus.NewDesc("netpro_parse_overflows_total",
			"Event stream chunks discarded for exceeding the parse buffer.",
			labels, nil),
		queued: prometheus.NewDesc("netpro_queue_depth",
			"Messages waiting in the outbound queue.",
			labels, nil),
	}
}

// Register adds a source to the collector.
func (m *MetricsCollector) Register(src StatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
}

// Describe implements prometheus.Collector.
func (m *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.state
	ch <- m.sent
	ch <- m.received
	ch <- m.events
	ch <- m.reconnects
	ch <- m.overflows
	ch <- m.queued
}

// Collect implements prometheus.Collector.
func (m *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	sources := make([]StatsSource, len(m.sources))
	copy(sources, m.sources)
	m.mu.RUnlock()

	for _, src := range sources {
		st := src.Stats()
		url := src.URL()
		ch <- prometheus.MustNewConstMetric(m.state, prometheus.GaugeValue, float64(st.State), url)
		ch <- prometheus.MustNewConstMetric(m.sent, prometheus.CounterValue, float64(st.MessagesSent), url)
		ch <- prometheus.MustNewConstMetric(m.received, prometheus.CounterValue, float64(st.MessagesReceived), url)
		ch <- prometheus.MustNewConstMetric(m.events, prometheus.CounterValue, float64(st.EventsReceived), url)
		ch <- prometheus.MustNewConstMetric(m.reconnects, prometheus.CounterValue, float64(st.Reconnects), url)
		ch <- prometheus.MustNewConstMetric(m.overflows, prometheus.CounterValue, float64(st.ParseOverflows), url)
		ch <- prometheus.MustNewConstMetric(m.queued, prometheus.GaugeValue, float64(st.Queued), url)
	}
}
