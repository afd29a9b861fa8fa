package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		intentsTotal,
		enrollmentsTotal,
		amountMismatchTotal,
		paymentsRevenueTotal,
	)
}

var (
	// status: created|reused|succeeded|failed|canceled
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intents_total",
			Help: "Payment intent transitions by resulting status.",
		},
		[]string{"status"},
	)

	// source: free|purchase
	enrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollments_total",
			Help: "Enrollments created, by source.",
		},
		[]string{"source"},
	)

	amountMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_amount_mismatch_total",
			Help: "Intent requests whose claimed amount disagreed with the catalog price.",
		},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func IncIntent(status string) {
	intentsTotal.WithLabelValues(norm(status)).Inc()
}

func IncEnrollment(source string) {
	enrollmentsTotal.WithLabelValues(norm(source)).Inc()
}

func IncAmountMismatch() {
	amountMismatchTotal.Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(amount.InexactFloat64())
}
