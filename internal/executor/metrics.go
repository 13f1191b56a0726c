package executor

import "github.com/prometheus/client_golang/prometheus"

var (
	executeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wasmcore",
		Subsystem: "executor",
		Name:      "execute_duration_seconds",
		Help:      "The total latency of contract execution",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})
	executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasmcore",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "The total number of contract executions by terminal status",
	}, []string{"status"})
	gasBurnt = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wasmcore",
		Subsystem: "executor",
		Name:      "gas_burnt",
		Help:      "The gas burnt per execution",
		Buckets:   prometheus.ExponentialBuckets(100, 4, 12),
	})
	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wasmcore",
		Subsystem: "executor",
		Name:      "in_flight",
		Help:      "The number of executions currently running",
	})
)

func init() {
	prometheus.MustRegister(executeDuration)
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(gasBurnt)
	prometheus.MustRegister(inFlightGauge)
}
