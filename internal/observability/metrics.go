// README: Prometheus metrics for matching runs and the HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchingRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "routescc",
		Name:      "matching_runs_total",
		Help:      "Completed matching pipeline runs",
	})
	MatchingSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "routescc",
		Name:      "matching_skipped_total",
		Help:      "Matching calls skipped because state was clean",
	})
	SuggestionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "routescc",
		Name:      "suggestions_total",
		Help:      "Driver suggestions produced across all runs",
	})
	WideningRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routescc",
		Name:      "matching_widening_rounds",
		Help:      "Radius-widening rounds taken per matching invocation",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7},
	})
	MatchingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routescc",
		Name:      "matching_duration_seconds",
		Help:      "Wall time of one matching invocation including widening",
		Buckets:   prometheus.DefBuckets,
	})
	DistanceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routescc",
		Name:      "distance_lookups_total",
		Help:      "Distance collaborator lookups by outcome",
	}, []string{"outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "routescc", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
)
