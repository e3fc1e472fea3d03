package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide counters. Registered on the default registry and served by
// the /metrics route.
var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_connections_total",
		Help: "Websocket sessions accepted.",
	})
	DisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_disconnects_total",
		Help: "Websocket sessions ended.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_active_sessions",
		Help: "Currently connected websocket sessions.",
	})
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_messages_broadcast_total",
		Help: "Messages published on the global channel.",
	})
	RoomMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_room_messages_total",
		Help: "Messages published on room channels.",
	})
	LagDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_lag_dropped_total",
		Help: "Events dropped from lagging fan-out subscribers.",
	})
	StoreAppendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_store_append_errors_total",
		Help: "Message persistence failures during broadcast.",
	})
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_heartbeat_evictions_total",
		Help: "Sessions evicted by the heartbeat timeout.",
	})
)
