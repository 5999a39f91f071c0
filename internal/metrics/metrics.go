package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_hub_active_connections",
			Help: "Currently registered hub connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_hub_connections_total",
			Help: "Total hub connections accepted",
		},
	)

	ConnectionsReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_hub_connections_replaced_total",
			Help: "Connections replaced by a reconnect with the same session ID",
		},
	)

	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_hub_messages_routed_total",
			Help: "Messages routed to live connections",
		},
		[]string{"mode"}, // "mention" or "broadcast"
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_hub_deliveries_dropped_total",
			Help: "Live pushes dropped because a delivery queue was full",
		},
	)

	AppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_hub_appends_total",
			Help: "Messages durably appended via the hub send path",
		},
	)
)
