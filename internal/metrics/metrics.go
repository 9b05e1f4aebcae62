// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Rejection reasons.
const (
	ReasonUnauthorized    = "unauthorized"
	ReasonRateLimited     = "rate_limited"
	ReasonCircuitOpen     = "circuit_open"
	ReasonNoRoute         = "no_route"
	ReasonNoHealthyTarget = "no_healthy_target"
)

type Metrics struct {
	registry *prometheus.Registry

	Requests            *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	Rejections          *prometheus.CounterVec
	RateLimiterDegraded prometheus.Counter
	BreakerState        *prometheus.GaugeVec
	BreakerTransitions  *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	AccessLogDropped    prometheus.Counter
}

// New builds the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of requests handled by the gateway.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "End-to-end duration of gateway requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"route"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "rejections_total",
				Help:      "Requests answered by the gateway without reaching an upstream.",
			},
			[]string{"route", "reason"},
		),
		RateLimiterDegraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "degraded_total",
				Help:      "Requests admitted because the counter store was unavailable.",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "state",
				Help:      "Current breaker state per upstream (0 closed, 1 open, 2 half-open).",
			},
			[]string{"upstream"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "transitions_total",
				Help:      "Breaker state transitions per upstream.",
			},
			[]string{"upstream", "from", "to"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "response_duration_seconds",
				Help:      "Time until upstream response headers, by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"upstream", "outcome"},
		),
		AccessLogDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accesslog",
				Name:      "dropped_total",
				Help:      "Access log records dropped because the buffer was full.",
			},
		),
	}

	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.Rejections,
		m.RateLimiterDegraded,
		m.BreakerState,
		m.BreakerTransitions,
		m.UpstreamDuration,
		m.AccessLogDropped,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Reject(route, reason string) {
	m.Rejections.WithLabelValues(route, reason).Inc()
}

// BreakerChanged is a circuitbreaker.StateChangeFunc.
func (m *Metrics) BreakerChanged(upstream string, from, to circuitbreaker.State) {
	m.BreakerState.WithLabelValues(upstream).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(upstream, from.String(), to.String()).Inc()
}
