package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"travelsaga/internal/domain/saga"
)

const metricsNamespace = "travelsaga"

// Metrics collects saga, step and compensation metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sagasStarted         *prometheus.CounterVec
	sagasFinished        *prometheus.CounterVec
	sagaDuration         *prometheus.HistogramVec
	stepOutcomes         *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
	reconciliations      *prometheus.CounterVec
	eventsPublished      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	buckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sagas_started_total",
			Help:      "Sagas started by coordination type.",
		}, []string{"type"}),
		sagasFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sagas_finished_total",
			Help:      "Sagas that reached a terminal status.",
		}, []string{"type", "status"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "saga_duration_seconds",
			Help:      "Time from saga start to terminal status.",
			Buckets:   buckets,
		}, []string{"type", "status"}),
		stepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "step_calls_total",
			Help:      "Step provider calls by step, action and outcome.",
		}, []string{"step", "action", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Step provider call latency.",
			Buckets:   buckets,
		}, []string{"step", "action"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compensation_failures_total",
			Help:      "Cancel calls that failed after all retries and await reconciliation.",
		}, []string{"step"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconciliation_attempts_total",
			Help:      "Reconciliation retries of unresolved compensations.",
		}, []string{"step", "outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "journal_events_total",
			Help:      "Events appended to the booking journal.",
		}, []string{"event_type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sagasStarted,
		m.sagasFinished,
		m.sagaDuration,
		m.stepOutcomes,
		m.stepDuration,
		m.compensationFailures,
		m.reconciliations,
		m.eventsPublished,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SagaStarted(typ saga.Type) {
	m.sagasStarted.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) SagaFinished(typ saga.Type, status saga.Status, elapsed time.Duration) {
	m.sagasFinished.WithLabelValues(string(typ), string(status)).Inc()
	m.sagaDuration.WithLabelValues(string(typ), string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) StepCall(step saga.Step, action, outcome string, elapsed time.Duration) {
	m.stepOutcomes.WithLabelValues(step.Lower(), action, outcome).Inc()
	m.stepDuration.WithLabelValues(step.Lower(), action).Observe(elapsed.Seconds())
}

func (m *Metrics) CompensationFailed(step saga.Step) {
	m.compensationFailures.WithLabelValues(step.Lower()).Inc()
}

func (m *Metrics) Reconciled(step saga.Step, resolved bool) {
	outcome := "retry"
	if resolved {
		outcome = "resolved"
	}
	m.reconciliations.WithLabelValues(step.Lower(), outcome).Inc()
}

func (m *Metrics) EventPublished(typ saga.EventType) {
	m.eventsPublished.WithLabelValues(string(typ)).Inc()
}
