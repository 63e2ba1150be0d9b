package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus series a host program can scrape to
// observe a Messenger's behavior alongside its own metrics.
type Metrics struct {
	MessagesTotal          *prometheus.CounterVec
	BytesTotal             *prometheus.CounterVec
	SendQueueSize          prometheus.Gauge
	ReconnectAttemptsTotal prometheus.Counter
	CriticalFailuresTotal  prometheus.Counter
	ConnectionPhase        prometheus.Gauge
}

// New creates and registers the Prometheus metrics for one Messenger.
func New() *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmessenger_messages_total",
			Help: "Total WebSocket messages, by direction.",
		}, []string{"direction"}),
		BytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmessenger_bytes_total",
			Help: "Total WebSocket payload bytes, by direction.",
		}, []string{"direction"}),
		SendQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsmessenger_send_queue_size",
			Help: "Current number of messages queued for send.",
		}),
		ReconnectAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsmessenger_reconnect_attempts_total",
			Help: "Total reconnect attempts made since startup.",
		}),
		CriticalFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsmessenger_critical_failures_total",
			Help: "Total times the critical-failure threshold was breached.",
		}),
		ConnectionPhase: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsmessenger_connection_phase",
			Help: "Current engine phase as an integer (see wstypes.Phase).",
		}),
	}
}

// RecordSent records one outbound message of the given size.
func (m *Metrics) RecordSent(bytes int) {
	m.MessagesTotal.WithLabelValues("sent").Inc()
	m.BytesTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordReceived records one inbound message of the given size.
func (m *Metrics) RecordReceived(bytes int) {
	m.MessagesTotal.WithLabelValues("received").Inc()
	m.BytesTotal.WithLabelValues("received").Add(float64(bytes))
}

// SetQueueSize reports the current depth of the send queue.
func (m *Metrics) SetQueueSize(n int64) {
	m.SendQueueSize.Set(float64(n))
}

// IncReconnectAttempt records one reconnect attempt.
func (m *Metrics) IncReconnectAttempt() {
	m.ReconnectAttemptsTotal.Inc()
}

// IncCriticalFailure records one critical-failure threshold breach.
func (m *Metrics) IncCriticalFailure() {
	m.CriticalFailuresTotal.Inc()
}

// SetPhase reports the engine's current coarse lifecycle state.
func (m *Metrics) SetPhase(phase int) {
	m.ConnectionPhase.Set(float64(phase))
}
