package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(gatewayRequestsTotal, gatewayLatency) }

var (
	// op: create|retrieve|cancel ; result: ok|unavailable|rejected
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Calls to the payment gateway by operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_latency_seconds",
			Help:    "Payment gateway call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op"},
	)
)

func ObserveGatewayCall(provider, op, result string, seconds float64) {
	gatewayRequestsTotal.WithLabelValues(norm(provider), norm(op), norm(result)).Inc()
	gatewayLatency.WithLabelValues(norm(provider), norm(op)).Observe(seconds)
}
