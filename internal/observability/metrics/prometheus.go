// Package metrics provides Prometheus metrics for the alert and protocol engines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	EvaluationsTotal      *prometheus.CounterVec
	EvaluationDuration    prometheus.Histogram
	AlertsRaised          *prometheus.CounterVec
	ProtocolMatches       *prometheus.CounterVec
	ProtocolErrors        *prometheus.CounterVec
	ProtocolsLoaded       prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	DeadLetters           prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
	RateLimited           prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxguard_evaluations_total",
			Help: "Total prescription evaluations by outcome",
		}, []string{"outcome"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxguard_evaluation_duration_seconds",
			Help:    "Prescription evaluation duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxguard_alerts_total",
			Help: "Deterministic alerts raised by kind and level",
		}, []string{"kind", "level"}),
		ProtocolMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxguard_protocol_matches_total",
			Help: "Protocols whose trigger held",
		}, []string{"protocol"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxguard_protocol_errors_total",
			Help: "Protocols aborted by configuration errors",
		}, []string{"reason"}),
		ProtocolsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxguard_protocols_loaded",
			Help: "Protocol definitions served by the last load",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_dead_letters_total",
			Help: "Messages routed to the dead letter topic",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.AlertsRaised,
		m.ProtocolMatches,
		m.ProtocolErrors,
		m.ProtocolsLoaded,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.DeadLetters,
		m.CircuitBreakerState,
		m.RateLimited,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were registered with
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Handler returns the default Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
