package clusterd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkersTotal tracks the live worker count by state; the supervisor
	// records only the "running" state.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusterd_workers_total",
			Help: "Current number of worker processes by state",
		},
		[]string{"state"},
	)

	ConnectionsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_connections_routed_total",
			Help: "Total connections routed to a worker, by balancing policy",
		},
		[]string{"policy"},
	)

	ConnectionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_connections_dropped_total",
			Help: "Total connections dropped because no worker could accept the handoff",
		},
	)

	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_worker_restarts_total",
			Help: "Total worker respawns, whether triggered by crash or voluntary close",
		},
	)

	WorkerSpawnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_worker_spawn_failures_total",
			Help: "Total worker spawn attempts that failed, including exhausted respawn backoff",
		},
	)

	DebugPortOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterd_debug_port_offset",
			Help: "Highest debug/inspect port offset assigned to a worker so far",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ConnectionsRoutedTotal)
	prometheus.MustRegister(ConnectionsDroppedTotal)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WorkerSpawnFailuresTotal)
	prometheus.MustRegister(DebugPortOffset)
}

// MetricsHandler returns the HTTP handler that serves the registered
// collectors in the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
