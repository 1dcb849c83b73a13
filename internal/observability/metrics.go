// Package observability exposes Prometheus metrics for the provider
// fallback chain, transcription polling and HTTP traffic.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tutorly/internal/transcribe"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	transcribePolls  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the metric set and registers it with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry so collectors never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorly_provider_attempts_total",
			Help: "Provider calls made by the fallback chain, by provider and outcome.",
		}, []string{"provider", "outcome"}),

		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorly_provider_latency_seconds",
			Help:    "Latency of individual provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		transcribePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorly_transcription_polls_total",
			Help: "Transcription status polls, by observed status.",
		}, []string{"status"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorly_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorly_http_request_duration_seconds",
			Help:    "End-to-end HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.providerAttempts,
		m.providerLatency,
		m.transcribePolls,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveAttempt implements providers.Hooks. Called once per provider call
// made by the fallback chain.
func (m *Metrics) ObserveAttempt(provider, outcome string, duration time.Duration) {
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// PollObserver returns a transcribe.PollObserver counting status polls.
func (m *Metrics) PollObserver() transcribe.PollObserver {
	return func(status transcribe.Status) {
		m.transcribePolls.WithLabelValues(string(status)).Inc()
	}
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(route, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
