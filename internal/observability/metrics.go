package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects delivery and connection counters for the chat core.
//
// A nil *Metrics is valid: every recording method is a no-op on nil, so
// components that run without metrics (tests, tools) need no stub.
//
// Usage:
//
//	m := observability.NewMetrics(prometheus.DefaultRegisterer)
//	m.ConnectionOpened("chat")
//	defer m.ConnectionClosed("chat")
type Metrics struct {
	// ActiveConnections is the number of open WebSocket connections.
	// Labels: kind (chat|notifications)
	ActiveConnections *prometheus.GaugeVec

	// FramesDelivered counts frames enqueued onto session buffers.
	// Labels: room_kind (circle|user)
	FramesDelivered *prometheus.CounterVec

	// FramesDropped counts frames not delivered.
	// Labels: room_kind, reason (backpressure|closed)
	FramesDropped *prometheus.CounterVec

	// SessionsKicked counts sessions closed by the backpressure policy.
	SessionsKicked prometheus.Counter

	// Commands counts inbound chat commands.
	// Labels: type, status (ok|rejected|error)
	Commands *prometheus.CounterVec

	// LedgerWriteDuration measures message persistence latency in seconds.
	LedgerWriteDuration prometheus.Histogram

	// Notifications counts membership notifications produced.
	// Labels: kind (founded|joined|left|removed)
	Notifications *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circles_ws_connections",
				Help: "Current number of open WebSocket connections by kind",
			},
			[]string{"kind"},
		),
		FramesDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circles_frames_delivered_total",
				Help: "Total number of frames enqueued to sessions",
			},
			[]string{"room_kind"},
		),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circles_frames_dropped_total",
				Help: "Total number of frames that could not be delivered",
			},
			[]string{"room_kind", "reason"},
		),
		SessionsKicked: f.NewCounter(prometheus.CounterOpts{
			Name: "circles_sessions_kicked_total",
			Help: "Total number of sessions closed because of backpressure",
		}),
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circles_chat_commands_total",
				Help: "Total number of inbound chat commands by type and status",
			},
			[]string{"type", "status"},
		),
		LedgerWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "circles_ledger_write_duration_seconds",
			Help:    "Duration of chat message persistence in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circles_notifications_total",
				Help: "Total number of membership notifications produced",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) ConnectionOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionClosed(kind string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(kind).Dec()
}

func (m *Metrics) FrameDelivered(roomKind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FramesDelivered.WithLabelValues(roomKind).Add(float64(n))
}

func (m *Metrics) FrameDropped(roomKind, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FramesDropped.WithLabelValues(roomKind, reason).Add(float64(n))
}

func (m *Metrics) SessionKicked() {
	if m == nil {
		return
	}
	m.SessionsKicked.Inc()
}

func (m *Metrics) Command(typ, status string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(typ, status).Inc()
}

func (m *Metrics) ObserveLedgerWrite(seconds float64) {
	if m == nil {
		return
	}
	m.LedgerWriteDuration.Observe(seconds)
}

func (m *Metrics) NotificationProduced(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}
