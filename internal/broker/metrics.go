package broker

import "github.com/prometheus/client_golang/prometheus"

var (
	observersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "litert",
		Subsystem: "broker",
		Name:      "observers",
		Help:      "Currently registered observers across all topics",
	})

	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "litert",
		Subsystem: "broker",
		Name:      "dropped_observers_total",
		Help:      "Observers removed because a bounded send attempt failed",
	})
)

func init() {
	prometheus.MustRegister(observersGauge, droppedTotal)
}
