// monitoring.go: Prometheus metrics for admission decisions
package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Admission decisions by outcome (allowed, denied, blocked)",
		},
		[]string{"outcome"},
	)

	fallbackDecisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_fallback_decisions_total",
			Help: "Decisions served by the local fallback limiter while the store was unavailable",
		},
	)

	blocksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_blocks_created_total",
			Help: "Abuse blocks created by this instance",
		},
	)

	storeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_store_errors_total",
			Help: "Coordination store errors and timeouts",
		},
	)

	trackerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_behavior_samples_dropped_total",
			Help: "Behavior samples dropped because the tracker queue was full",
		},
	)

	decisionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_decision_seconds",
			Help:    "Latency of one admission check on the request path",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal, fallbackDecisions, blocksCreated,
		storeErrors, trackerDropped, decisionSeconds)
}
