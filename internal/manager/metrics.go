package manager

import "github.com/prometheus/client_golang/prometheus"

// Request outcomes used as the "outcome" label of requestsTotal.
const (
	outcomeAdmitted  = "admitted"
	outcomeRejected  = "rejected"
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
)

var (
	loopIterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "batchd",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Total number of orchestrator loop iterations",
		},
	)

	loopStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "batchd",
			Subsystem: "loop",
			Name:      "step_duration_seconds",
			Help:      "Duration of executor step calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "batchd",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Requests by outcome (admitted, rejected, completed, failed, dropped)",
		},
		[]string{"outcome"},
	)

	liveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "batchd",
			Subsystem: "requests",
			Name:      "live",
			Help:      "Requests currently in the request table",
		},
	)

	deliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "batchd",
			Subsystem: "requests",
			Name:      "delivery_failures_total",
			Help:      "Responses the upstream callback failed to accept",
		},
	)

	callbackErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "batchd",
			Subsystem: "loop",
			Name:      "callback_errors_total",
			Help:      "Failed upstream callbacks by loop phase (fetch, poll)",
		},
		[]string{"phase"},
	)

	kvBlocksUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "batchd",
			Subsystem: "kv",
			Name:      "blocks_used",
			Help:      "KV cache blocks held by live requests (sim backend)",
		},
	)
)

func init() {
	prometheus.MustRegister(loopIterationsTotal, loopStepDuration, requestsTotal, liveRequests, deliveryFailuresTotal, callbackErrorsTotal, kvBlocksUsed)
}
