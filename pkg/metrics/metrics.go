package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RecalcCycles counts completed portfolio recalculation cycles
var RecalcCycles = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "quantfolio_recalc_cycles_total",
		Help: "Total number of completed portfolio recalculation cycles",
	},
)

// RecalcDuration records latency distribution for recalculation cycles
var RecalcDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "quantfolio_recalc_duration_seconds",
		Help:    "Latency in seconds of a full portfolio recalculation cycle",
		Buckets: prometheus.DefBuckets,
	},
)

// SimulatorTicks counts GBM price advances by ticker
var SimulatorTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quantfolio_simulator_ticks_total",
		Help: "Total number of simulated price advances",
	},
	[]string{"ticker"},
)

// Catalog cache metrics
var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantfolio_cache_hits_total",
			Help: "Catalog cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantfolio_cache_misses_total",
			Help: "Catalog cache misses by cache name",
		},
		[]string{"cache"},
	)

	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantfolio_cache_evictions_total",
			Help: "Catalog cache evictions by cache name",
		},
		[]string{"cache"},
	)
)

// EventOverflows counts subscriber queue saturations handled run-on-caller
var EventOverflows = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quantfolio_event_queue_overflows_total",
		Help: "Events delivered on the caller goroutine because a subscriber queue was full",
	},
	[]string{"subscriber"},
)

// WSClients tracks connected websocket stream clients
var WSClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "quantfolio_ws_clients",
		Help: "Number of connected websocket clients",
	},
)

func init() {
	prometheus.MustRegister(RecalcCycles, RecalcDuration, SimulatorTicks)
	prometheus.MustRegister(CacheHits, CacheMisses, CacheEvictions)
	prometheus.MustRegister(EventOverflows, WSClients)
}
