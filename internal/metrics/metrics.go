package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vestnik_connections_live",
			Help: "Currently open websocket connections",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vestnik_auth_failures_total",
			Help: "Total rejected connection and API authentications",
		},
	)

	// Message metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vestnik_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestnik_messages_delivered_total",
			Help: "Total live message deliveries by outcome",
		},
		[]string{"outcome"}, // "delivered" or "offline"
	)

	MessageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestnik_message_errors_total",
			Help: "Total failed message sends",
		},
		[]string{"reason"}, // "validation" or "store"
	)

	// Call signaling metrics
	CallEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestnik_call_events_total",
			Help: "Total call signaling events routed",
		},
		[]string{"event"},
	)

	SignalingDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vestnik_signaling_dropped_total",
			Help: "Total signaling payloads dropped because the target was offline",
		},
	)
)
