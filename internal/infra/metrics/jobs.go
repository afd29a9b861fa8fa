package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, intentsExpiredTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_job_runs_total",
			Help: "Background job passes, labeled by job and result.",
		},
		[]string{"job", "result"}, // 'ok', 'error'
	)

	intentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_intents_expired_total",
			Help: "Abandoned payment intents canceled by the sweep.",
		},
	)
)

func IncJobRun(job, result string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
}

func AddIntentsExpired(count int) {
	if count > 0 {
		intentsExpiredTotal.Add(float64(count))
	}
}
