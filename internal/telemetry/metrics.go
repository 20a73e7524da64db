package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_runs_total",
		Help: "Runs by status they reached (queued on creation, terminal on finish).",
	}, []string{"status"})

	stepsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_steps_enqueued_total",
		Help: "Step jobs pushed to the queue, including retries and redrives.",
	})

	stepsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_steps_finished_total",
		Help: "Step executions by outcome: succeeded, retried, exhausted, failed.",
	}, []string{"status"})

	stepsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_steps_dead_lettered_total",
		Help: "Step jobs sent to the dead-letter queue.",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_step_duration_seconds",
		Help:    "Connector execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"connector"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_api_http_requests_total",
		Help: "HTTP requests handled by the API by status code class.",
	}, []string{"code"})
)

// RunStatusChanged учитывает переход run в статус.
func RunStatusChanged(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// StepEnqueued учитывает отправку job в очередь.
func StepEnqueued() {
	stepsEnqueued.Inc()
}

// StepFinished учитывает исход выполнения шага.
func StepFinished(status string) {
	stepsFinished.WithLabelValues(status).Inc()
}

// StepDeadLettered учитывает отправку job в DLQ.
func StepDeadLettered() {
	stepsDeadLettered.Inc()
}

// ObserveStepDuration записывает время выполнения коннектора.
func ObserveStepDuration(connector string, d time.Duration) {
	stepDuration.WithLabelValues(connector).Observe(d.Seconds())
}

// HTTPRequest учитывает HTTP-ответ API ("2xx", "4xx", ...).
func HTTPRequest(code int) {
	httpRequests.WithLabelValues(codeClass(code)).Inc()
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
