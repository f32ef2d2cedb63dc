// Package observability exposes Prometheus metrics for the question pipeline
// and the HTTP gateway.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duck_ask"

// Metrics groups every collector the service publishes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	submissions     prometheus.Counter
	clarifications  prometheus.Counter
	outcomes        *prometheus.CounterVec
	callAttempts    *prometheus.CounterVec
	callRetries     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	persistFailures prometheus.Counter
	evictions       prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to keep them isolated from the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		// submissions counts accepted questions.
		submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Questions accepted for processing",
		}),

		// clarifications counts answered clarification rounds.
		clarifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "clarification_rounds_total",
			Help:      "Clarification answers accepted",
		}),

		// outcomes counts terminal records.
		// Labels: state (Completed, Failed), kind (error kind, empty on success)
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Records reaching a terminal state",
		}, []string{"state", "kind"}),

		// callAttempts counts calls to the interpreter and executor.
		// Labels: stage (interpret, execute), result (ok, error, timeout)
		callAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "calls_total",
			Help:      "External calls by stage and result",
		}, []string{"stage", "result"}),

		callRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "retries_total",
			Help:      "Automatic retries of failed external calls",
		}, []string{"stage"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "call_duration_seconds",
			Help:      "External call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Records not yet in a terminal state",
		}),

		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "persist_failures_total",
			Help:      "History writes that failed or were dropped",
		}),

		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Terminal records evicted from memory after retention",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Submitted records an accepted question.
func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.submissions.Inc()
	m.inFlight.Inc()
}

// ClarificationAnswered records an accepted clarification answer.
func (m *Metrics) ClarificationAnswered() {
	if m == nil {
		return
	}
	m.clarifications.Inc()
}

// Finished records a terminal transition. kind is empty for Completed.
func (m *Metrics) Finished(state, kind string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(state, kind).Inc()
	m.inFlight.Dec()
}

// CallFinished records one external call attempt.
func (m *Metrics) CallFinished(stage, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callAttempts.WithLabelValues(stage, result).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Retried records an automatic retry.
func (m *Metrics) Retried(stage string) {
	if m == nil {
		return
	}
	m.callRetries.WithLabelValues(stage).Inc()
}

// PersistFailed records a dropped or failed history write.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// Evicted records n records evicted by the retention sweeper.
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
