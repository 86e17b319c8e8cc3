package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mindsync"

var (
	once sync.Once

	recordsStaged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_staged_total",
			Help:      "Records staged for sync by priority.",
		},
		[]string{"priority"},
	)

	syncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_outcomes_total",
			Help:      "Per-item transport outcomes.",
		},
		[]string{"outcome"},
	)

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Drain cycles by kind.",
		},
		[]string{"kind"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of drain cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries currently held by the priority queue.",
		},
	)

	networkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the network monitor reports connectivity.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			recordsStaged,
			syncOutcomes,
			syncCycles,
			cycleDuration,
			queueDepth,
			networkOnline,
			httpRequests,
		)
	})
}

func IncStaged(priority string) {
	recordsStaged.WithLabelValues(priority).Inc()
}

func IncOutcome(outcome string) {
	syncOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveCycle records a finished drain cycle.
func ObserveCycle(kind string, d time.Duration) {
	syncCycles.WithLabelValues(kind).Inc()
	cycleDuration.Observe(d.Seconds())
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func SetOnline(online bool) {
	if online {
		networkOnline.Set(1)
		return
	}
	networkOnline.Set(0)
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
