package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "depot_sync_"

var queueDepthGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "delayed_work_queue_depth",
		Help: "Number of write commands waiting for the running synchronization to end",
	},
)

var delayedWorkCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "delayed_work_total",
		Help: "Write commands deferred, replayed or failed during replay",
	},
	[]string{"kind", "outcome"},
)

var snapshotRowsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "snapshot_rows_total",
		Help: "Rows written to or read from snapshots",
	},
	[]string{"direction", "block"},
)

var snapshotDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "snapshot_duration_seconds",
		Help:    "Time spent transferring one snapshot",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	},
	[]string{"direction", "outcome"},
)

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
