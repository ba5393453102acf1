package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	HandshakesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_handshakes_rejected_total",
			Help: "WebSocket upgrades refused before handshake",
		},
		[]string{"reason"}, // "missing_token", "expired", "invalid", "missing_user"
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_frames_received_total",
			Help: "Inbound frames by type",
		},
		[]string{"type"},
	)

	FrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_frame_errors_total",
			Help: "Error frames sent to clients",
		},
		[]string{"code"},
	)

	HeartbeatTerminations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_heartbeat_terminations_total",
			Help: "Connections terminated for missing a pong",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_sent_total",
			Help: "Direct messages accepted",
		},
		[]string{"status"}, // "delivered" or "queued"
	)

	QueuedDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queued_messages_delivered_total",
			Help: "Offline messages delivered on reconnect",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_presence_transitions_total",
			Help: "Presence edges",
		},
		[]string{"status"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_hits_total",
			Help: "Frames rejected by the rate limiter",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_store_latency_seconds",
			Help:    "Conversation store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"operation"},
	)
)
