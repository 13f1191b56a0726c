package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	hitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wasmcore",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "The total number of artifact cache hits",
	})
	missesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wasmcore",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "The total number of artifact cache misses",
	})
	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wasmcore",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "The total number of artifacts evicted from the cache",
	})
	entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wasmcore",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "The number of artifacts currently memoized",
	})
	compileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wasmcore",
		Subsystem: "cache",
		Name:      "compile_duration_seconds",
		Help:      "The total latency of instrument and compile on a cache miss",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

func init() {
	prometheus.MustRegister(hitsTotal)
	prometheus.MustRegister(missesTotal)
	prometheus.MustRegister(evictionsTotal)
	prometheus.MustRegister(entriesGauge)
	prometheus.MustRegister(compileDuration)
}
