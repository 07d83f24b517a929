package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubConnectedClients tracks the current number of connected WebSocket clients
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Current number of connected WebSocket clients across all channels",
		},
	)

	// HubActiveChannels tracks the number of channels with at least one local subscriber
	HubActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_channels",
			Help: "Number of channels with at least one local subscriber",
		},
	)

	// HubMessagesPublishedTotal tracks messages published to the broker
	HubMessagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_published_total",
			Help: "Total messages published to the broker",
		},
	)

	// HubMessagesBroadcastTotal tracks messages delivered to local sockets
	HubMessagesBroadcastTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_broadcast_total",
			Help: "Total messages delivered to local WebSocket clients",
		},
	)

	// HubBroadcastDuration tracks local fan-out latency in seconds
	HubBroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_broadcast_duration_seconds",
			Help:    "Local fan-out duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// HubSlowClientsEvicted tracks clients evicted because their send buffer was full
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Total WebSocket clients evicted due to a full send buffer",
		},
	)

	// HubIdleDisconnects tracks connections evicted by the heartbeat sweep
	HubIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_idle_disconnects_total",
			Help: "Total connections evicted after exceeding the idle timeout",
		},
	)

	// HubCommandChannelDepth tracks current hub command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)
)

// Broker Metrics
var (
	// BrokerPublishErrors tracks failed broker publishes
	BrokerPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_publish_errors_total",
			Help: "Total failed broker publish attempts",
		},
	)

	// BrokerReconnectsTotal tracks broker receive loop reconnects
	BrokerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total broker receive loop reconnects",
		},
	)

	// BrokerBacklog tracks the best-effort broker receive backlog
	BrokerBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_backlog",
			Help: "Best-effort backlog of broker messages awaiting local fan-out",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketMessageSendDuration tracks individual socket write latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// WebSocketPingFailures tracks failed heartbeat pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket ping sends",
		},
	)
)

// Match Engine Metrics
var (
	// MatchMutationsTotal tracks match mutations by operation and status
	MatchMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_mutations_total",
			Help: "Total match mutations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// MatchAutoFinishesTotal tracks system-triggered FINISHED transitions
	MatchAutoFinishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_auto_finishes_total",
			Help: "Total automatic match finish transitions",
		},
	)
)
