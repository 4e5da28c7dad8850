package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "assignments_total", Help: "Assignment attempts by outcome"},
		[]string{"outcome"},
	)
	AssignmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rider_dispatch",
		Name:      "assignment_latency_seconds",
		Help:      "Latency of one assignment attempt",
		Buckets:   prometheus.DefBuckets,
	})
	LadderRungUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "ladder_rung_used_total", Help: "Search strategy that produced the winning candidate set"},
		[]string{"strategy"},
	)
	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rider_dispatch", Name: "commit_conflicts_total", Help: "Rider status compare-and-set conflicts during commit",
	})

	IndexRebuildsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "index_rebuilds_total", Help: "Spatial index rebuilds performed"})
	IndexRebuildsSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "index_rebuilds_skipped_total", Help: "Rebuild requests suppressed by the throttle"})
	LinearScanFallbacks  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "linear_scan_fallbacks_total", Help: "Nearby searches served by the full scan fallback"})
	RidersIndexed        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_dispatch", Name: "riders_indexed", Help: "Riders present in the current spatial index"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rider_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
