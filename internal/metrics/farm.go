package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edvin/mfafarm/internal/model"
)

var (
	serviceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mfafarm_service_state",
			Help: "Last observed service state per node (0 unknown, 1 pending, 2 running, 3 stopped, 4 error)",
		},
		[]string{"service", "node"},
	)

	configState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfafarm_config_state",
			Help: "Configuration lifecycle state (0 unknown, 1 loaded, 2 dirty, 3 saved, 4 stopped, 5 error)",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfafarm_notifications_total",
			Help: "Notifications sent and received on the farm bus",
		},
		[]string{"kind", "direction", "result"},
	)

	farmNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfafarm_topology_nodes",
			Help: "Number of nodes in the loaded farm topology",
		},
	)
)

// ObserveServiceState records a service state transition.
func ObserveServiceState(svc model.Service, node string, state model.ServiceState) {
	serviceState.WithLabelValues(string(svc), node).Set(float64(state))
}

// ObserveConfigState records a configuration state transition.
func ObserveConfigState(state model.ConfigState) {
	configState.Set(float64(state))
}

// ObserveTopology records the current topology size.
func ObserveTopology(nodes int) {
	farmNodes.Set(float64(nodes))
}

// NotificationSent counts an outgoing notification. result is "ok" or "error".
func NotificationSent(kind model.NotificationKind, result string) {
	notificationsTotal.WithLabelValues(kind.String(), "out", result).Inc()
}

// NotificationReceived counts an incoming notification. result is "ok" or "dropped".
func NotificationReceived(kind model.NotificationKind, result string) {
	notificationsTotal.WithLabelValues(kind.String(), "in", result).Inc()
}
