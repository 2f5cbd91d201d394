package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the payflow collectors on their own registry. All methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	confirmations *prometheus.CounterVec
	stepAttempts  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Name:      "api_requests_total",
			Help:      "Backend API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payflow",
			Name:      "api_request_duration_seconds",
			Help:      "Backend API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Name:      "confirmations_total",
			Help:      "Intent confirmations by intent kind and outcome.",
		}, []string{"kind", "outcome"}),
		stepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Name:      "step_attempts_total",
			Help:      "Finished workflow step attempts by step and status.",
		}, []string{"step", "status"}),
	}
	m.Registry.MustRegister(m.apiRequests, m.apiLatency, m.confirmations, m.stepAttempts)
	return m
}

func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(operation, outcome).Inc()
	m.apiLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveConfirmation(kind, outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveAttempt(step, status string) {
	if m == nil {
		return
	}
	m.stepAttempts.WithLabelValues(step, status).Inc()
}
