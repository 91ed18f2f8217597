// Package metrics provides Prometheus instrumentation for the StudentLink
// realtime relay. It exposes a gauge for the socket connection state,
// counters for message throughput and reconnect attempts, and gauges for
// live channel subscriptions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SocketState tracks the socket client's connection state as an integer
	// (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).
	SocketState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studentlink_socket_state",
		Help: "Current socket connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
	})

	// ReconnectAttemptsTotal counts scheduled socket reconnection attempts.
	ReconnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studentlink_socket_reconnect_attempts_total",
		Help: "Total number of socket reconnection attempts scheduled",
	})

	// MessagesTotal counts socket messages, labeled by outcome:
	// "inbound", "outbound", "dropped", or "malformed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studentlink_messages_total",
		Help: "Total number of socket messages processed",
	}, []string{"outcome"})

	// ChannelSubscriptions tracks the number of live managed-channel handles.
	ChannelSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studentlink_channel_subscriptions",
		Help: "Current number of live managed channel subscriptions",
	})

	// ChannelEventsTotal counts events delivered on managed channels,
	// labeled by event name.
	ChannelEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studentlink_channel_events_total",
		Help: "Total number of events delivered on managed channels",
	}, []string{"event"})

	// ReconcileOpsTotal counts collection reconciliations, labeled by
	// operation: "created", "updated", "deleted", or "ignored". Recorded
	// by the concerns reconciler itself, not by callers.
	ReconcileOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studentlink_reconcile_ops_total",
		Help: "Total number of concern collection reconciliations applied",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		SocketState,
		ReconnectAttemptsTotal,
		MessagesTotal,
		ChannelSubscriptions,
		ChannelEventsTotal,
		ReconcileOpsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
