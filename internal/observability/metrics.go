package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the provider manager
type Metrics struct {
	registry        *prometheus.Registry
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	BackendTokens   *prometheus.CounterVec
	BackendCost     *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec
	NoBackend       *prometheus.CounterVec
	BackendHealthy  *prometheus.GaugeVec
}

// NewMetrics constructs a metrics registry with the manager collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_backend_requests_total",
		Help: "Candidate attempts by backend, task type and outcome",
	}, []string{"backend", "task_type", "outcome"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_backend_latency_seconds",
		Help:    "Candidate attempt latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_backend_tokens_total",
		Help: "Tokens reported by backends",
	}, []string{"backend"})

	cost := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_backend_cost_usd_total",
		Help: "Estimated spend in USD by backend",
	}, []string{"backend"})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_routing_fallbacks_total",
		Help: "Requests moved to a fallback backend",
	}, []string{"task_type", "backend"})

	noBackend := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_routing_no_backend_total",
		Help: "Requests rejected because no backend was available",
	}, []string{"task_type"})

	healthy := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llm_backend_healthy",
		Help: "1 when the last health probe succeeded",
	}, []string{"backend"})

	reg.MustRegister(
		reqs, latency, tokens, cost, fallbacks, noBackend, healthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:        reg,
		BackendRequests: reqs,
		BackendLatency:  latency,
		BackendTokens:   tokens,
		BackendCost:     cost,
		Fallbacks:       fallbacks,
		NoBackend:       noBackend,
		BackendHealthy:  healthy,
	}
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAttempt records one candidate attempt
func (m *Metrics) RecordAttempt(backend, taskType, outcome string, latency time.Duration, tokens int, costUSD float64) {
	if m == nil {
		return
	}
	backend = orUnknown(backend)
	m.BackendRequests.WithLabelValues(backend, orUnknown(taskType), orUnknown(outcome)).Inc()
	m.BackendLatency.WithLabelValues(backend).Observe(latency.Seconds())
	if tokens > 0 {
		m.BackendTokens.WithLabelValues(backend).Add(float64(tokens))
	}
	if costUSD > 0 {
		m.BackendCost.WithLabelValues(backend).Add(costUSD)
	}
}

// RecordFallback counts a move to a fallback backend
func (m *Metrics) RecordFallback(taskType, backend string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(orUnknown(taskType), orUnknown(backend)).Inc()
}

// RecordNoBackend counts a request with no usable backend
func (m *Metrics) RecordNoBackend(taskType string) {
	if m == nil {
		return
	}
	m.NoBackend.WithLabelValues(orUnknown(taskType)).Inc()
}

// SetBackendHealth updates the health gauge
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.BackendHealthy.WithLabelValues(orUnknown(backend)).Set(value)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
