package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. Each instance owns
// its registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	handshakeFailures    prometheus.Counter
	listenOverflows      prometheus.Counter
	protocolErrors       *prometheus.CounterVec // by kind

	// Matchmaking and game metrics
	queueDepth    prometheus.Gauge
	activeGames   prometheus.Gauge
	gamesStarted  prometheus.Counter
	gamesFinished *prometheus.CounterVec // by reason
	movesAccepted prometheus.Counter
	movesRejected *prometheus.CounterVec // by reason
	moveDuration  prometheus.Histogram

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by message type
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ninechess_active_sessions",
			Help: "Current number of connections past the handshake",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_sessions_disconnected_total",
			Help: "Total number of sessions disconnected",
		}),
		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_handshake_failures_total",
			Help: "Connections dropped during key exchange",
		}),
		listenOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_listen_overflows_total",
			Help: "Connections the kernel dropped because the accept backlog was full",
		}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ninechess_protocol_errors_total",
			Help: "Connections torn down by a protocol violation",
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ninechess_queue_depth",
			Help: "Players waiting in the matchmaking queue",
		}),
		activeGames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ninechess_active_games",
			Help: "Games currently being played",
		}),
		gamesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_games_started_total",
			Help: "Total number of games created by matchmaking",
		}),
		gamesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ninechess_games_finished_total",
			Help: "Total number of finished games by reason",
		}, []string{"reason"}),
		movesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ninechess_moves_accepted_total",
			Help: "Total number of accepted moves",
		}),
		movesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ninechess_moves_rejected_total",
			Help: "Total number of rejected moves by reason",
		}, []string{"reason"}),
		moveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ninechess_move_validation_seconds",
			Help:    "Time to validate and commit a move, including mate detection",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ninechess_messages_received_total",
			Help: "Total number of messages received from clients by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ninechess_messages_sent_total",
			Help: "Total number of messages sent to clients by type",
		}, []string{"type"}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

func (m *Metrics) RecordHandshakeFailure() {
	m.handshakeFailures.Inc()
}

func (m *Metrics) RecordListenOverflows(n uint64) {
	m.listenOverflows.Add(float64(n))
}

// RecordProtocolError counts a fatal error: "decrypt", "malformed",
// "frame_too_large", "panic" or "io".
func (m *Metrics) RecordProtocolError(kind string) {
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordActiveGames(n int) {
	m.activeGames.Set(float64(n))
}

func (m *Metrics) RecordGameStarted() {
	m.gamesStarted.Inc()
}

func (m *Metrics) RecordGameFinished(reason string) {
	m.gamesFinished.WithLabelValues(reason).Inc()
}

// RecordMove counts a move attempt; reason is empty for accepted moves.
func (m *Metrics) RecordMove(reason string, seconds float64) {
	if reason == "" {
		m.movesAccepted.Inc()
		m.moveDuration.Observe(seconds)
		return
	}
	m.movesRejected.WithLabelValues(reason).Inc()
}

// RecordMessageReceived increments the message received counter for a type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the message sent counter for a type
func (m *Metrics) RecordMessageSent(messageType string) {
	m.messagesSent.WithLabelValues(messageType).Inc()
}
