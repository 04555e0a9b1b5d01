package collab

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsOnce ensures metrics are only registered once.
var metricsOnce sync.Once

// metricsInstance is the singleton instance of coordination metrics.
var metricsInstance *Metrics

// Metrics holds all Prometheus metrics for the coordination core.
type Metrics struct {
	ActiveRooms     prometheus.Gauge
	Connections     prometheus.Gauge
	EventsTotal     *prometheus.CounterVec // devsync_events_total{event}
	TerminalRuns    *prometheus.CounterVec // devsync_terminal_runs_total{status}
	StorageFailures *prometheus.CounterVec // devsync_storage_failures_total{op}
	EvictedRooms    prometheus.Counter
}

// InitMetrics initializes the coordination metrics. Metrics register
// once; subsequent calls return the same instance. A nil registry uses
// the default Prometheus registry.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			ActiveRooms: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "devsync_active_rooms",
				Help: "Number of rooms currently resident in the registry",
			}),

			Connections: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "devsync_connections",
				Help: "Number of currently connected websocket clients",
			}),

			EventsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "devsync_events_total",
				Help: "Total inbound events dispatched, by event name",
			}, []string{"event"}),

			TerminalRuns: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "devsync_terminal_runs_total",
				Help: "Total terminal sessions finished, by final status",
			}, []string{"status"}),

			StorageFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "devsync_storage_failures_total",
				Help: "Total object store write failures, by operation",
			}, []string{"op"}),

			EvictedRooms: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "devsync_evicted_rooms_total",
				Help: "Total idle rooms evicted by the collector",
			}),
		}
	})

	return metricsInstance
}
