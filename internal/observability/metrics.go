package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "journey_matching", Name: "matches_total", Help: "Total number of matches created"})
	MatchConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "journey_matching", Name: "match_conflicts_total", Help: "Match inserts skipped because the pair already existed"})
	MatchRuns      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "journey_matching", Name: "runs_total", Help: "Matching runs by outcome"},
		[]string{"outcome"},
	)
	MatchLatency        = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "journey_matching", Name: "run_latency_seconds", Help: "Matching run latency seconds"})
	CandidatesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "journey_matching", Name: "candidates_evaluated_total", Help: "Candidates evaluated by orientation and result"},
		[]string{"direction", "result"},
	)
	DistanceFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "journey_matching", Name: "distance_fallbacks_total", Help: "Routed distance lookups that fell back to great circle"})
	NotifyTriggers    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "journey_matching", Name: "notify_triggers_total", Help: "Notification processor triggers by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "journey_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "journey_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
