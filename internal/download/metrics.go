package download

import "github.com/prometheus/client_golang/prometheus"

var downloadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "litert",
		Subsystem: "download",
		Name:      "pulls_total",
		Help:      "Completed pull attempts by terminal state",
	},
	[]string{"state"},
)

func init() {
	prometheus.MustRegister(downloadsTotal)
}
