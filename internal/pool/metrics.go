package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	spawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litert",
			Subsystem: "pool",
			Name:      "spawns_total",
			Help:      "Successful worker spawns by backend",
		},
		[]string{"backend"},
	)

	spawnFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litert",
			Subsystem: "pool",
			Name:      "spawn_failures_total",
			Help:      "Failed worker spawn attempts by backend",
		},
		[]string{"backend"},
	)

	workerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "litert",
		Subsystem: "pool",
		Name:      "worker_failures_total",
		Help:      "Workers marked dead after a crash or protocol violation",
	})

	workersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "litert",
		Subsystem: "pool",
		Name:      "workers",
		Help:      "Live worker processes",
	})
)

func init() {
	prometheus.MustRegister(spawnsTotal, spawnFailuresTotal, workerFailuresTotal, workersGauge)
}
