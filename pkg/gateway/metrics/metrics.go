// Package metrics holds the Prometheus collectors for the chat gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for generation requests.
const (
	OutcomeOK                 = "ok"
	OutcomeDailyQuotaExceeded = "daily_quota_exceeded"
	OutcomeRateLimited        = "rate_limited"
	OutcomeUnknown            = "unknown"
)

// Metrics is safe to use through a nil pointer; every Record call is then
// a no-op.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DroppedRequests prometheus.Counter

	ControlMessages *prometheus.CounterVec
	ModelSwitches   *prometheus.CounterVec

	RateLimitHits *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_voice"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected chat sessions",
		},
	)

	sessionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of chat sessions accepted",
		},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Chat session duration in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	droppedRequests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_requests_total",
			Help:      "Text requests dropped because the session was already processing",
		},
	)

	controlMessages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Client control frames by type",
		},
		[]string{"type"},
	)

	modelSwitches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_switches_total",
			Help:      "Runtime model switches by target model",
		},
		[]string{"model"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Chat sessions refused by the per-client limiter",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		requestsTotal,
		requestDuration,
		droppedRequests,
		controlMessages,
		modelSwitches,
		rateLimitHits,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		DroppedRequests: droppedRequests,
		ControlMessages: controlMessages,
		ModelSwitches:   modelSwitches,
		RateLimitHits:   rateLimitHits,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRequest(model, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(model, outcome).Inc()
	m.RequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.DroppedRequests.Inc()
}

func (m *Metrics) RecordControl(typ string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(typ).Inc()
}

func (m *Metrics) RecordModelSwitch(model string) {
	if m == nil {
		return
	}
	m.ModelSwitches.WithLabelValues(model).Inc()
}

func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
