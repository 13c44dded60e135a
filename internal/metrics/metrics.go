package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parishops/mailqueue/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EmailsSent      *prometheus.CounterVec
	EmailsFailed    *prometheus.CounterVec
	EmailsRetried   *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	TrackingEvents  *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EmailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total number of successfully delivered emails.",
		}, []string{"category"}),

		EmailsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emails_failed_total",
			Help: "Total number of permanently failed emails (retries exhausted).",
		}, []string{"category"}),

		EmailsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emails_retried_total",
			Help: "Total number of delivery attempts deferred or requeued for retry.",
		}, []string{"category"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "email_delivery_seconds",
			Help:    "Transport submission latency per successful send.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),

		TrackingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_tracking_events_total",
			Help: "Total number of open/click events recorded.",
		}, []string{"event_type"}),
	}

	reg.MustRegister(
		m.EmailsSent,
		m.EmailsFailed,
		m.EmailsRetried,
		m.DeliveryLatency,
		m.TrackingEvents,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so the worker stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Category, time.Duration),
	onFailed func(domain.Category),
	onRetried func(domain.Category),
) {
	onSent = func(c domain.Category, latency time.Duration) {
		m.EmailsSent.WithLabelValues(string(c)).Inc()
		m.DeliveryLatency.WithLabelValues(string(c)).Observe(latency.Seconds())
	}
	onFailed = func(c domain.Category) {
		m.EmailsFailed.WithLabelValues(string(c)).Inc()
	}
	onRetried = func(c domain.Category) {
		m.EmailsRetried.WithLabelValues(string(c)).Inc()
	}
	return
}

// ObserveTrackingEvent increments the tracking counter for one event.
func (m *Metrics) ObserveTrackingEvent(e domain.EventType) {
	m.TrackingEvents.WithLabelValues(string(e)).Inc()
}
