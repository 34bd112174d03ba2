package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// pendingItems gauges the queue backlog per kind; it is the metrics
	// face of the UI pending-count indicator.
	pendingItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_pending_items",
			Help: "Number of queued offline mutations awaiting sync.",
		},
		[]string{"kind"},
	)

	// syncInProgress is 1 while a drain holds the in-progress flag.
	syncInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_in_progress",
			Help: "Whether a queue drain is currently running.",
		},
	)

	// itemsSynced counts items successfully replayed against the remote API.
	itemsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_synced_total",
			Help: "Total queued mutations successfully synced.",
		},
		[]string{"kind"},
	)

	// itemsDropped counts items discarded without syncing, by reason:
	// "ceiling" (retry ceiling reached) or "terminal" (application-level
	// rejection).
	itemsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_dropped_total",
			Help: "Total queued mutations dropped without syncing.",
		},
		[]string{"kind", "reason"},
	)
)

func init() {
	prometheus.MustRegister(pendingItems, syncInProgress, itemsSynced, itemsDropped)
}
