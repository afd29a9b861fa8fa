package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDuration,
		reconcileRunsTotal,
	)
}

var (
	// outcome: applied|ignored|rejected|error
	// reason is bounded: invalid_signature|unhandled_event_type|unknown_intent|duplicate_event|already_terminal|transitioned|...
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Gateway webhook deliveries by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_duration_seconds",
			Help:    "Duration of webhook handling in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"outcome"},
	)

	// result: reconciled|unchanged|canceled|error
	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_total",
			Help: "Stale intents processed by the reconciliation sweep, by result.",
		},
		[]string{"result"},
	)
)

func IncWebhook(outcome, reason string) {
	webhookEventsTotal.WithLabelValues(norm(outcome), norm(reason)).Inc()
}

func ObserveWebhook(outcome string, seconds float64) {
	webhookDuration.WithLabelValues(norm(outcome)).Observe(seconds)
}

func IncReconcile(result string) {
	reconcileRunsTotal.WithLabelValues(norm(result)).Inc()
}
