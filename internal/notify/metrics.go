package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "depot_notify_"

var tasksCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "tasks_total",
		Help: "Background tasks run, failed or dropped by the worker pool",
	},
	[]string{"outcome"},
)

var noticesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "notices_total",
		Help: "Command notices sent to peer depots",
	},
	[]string{"peer", "kind", "outcome"},
)
