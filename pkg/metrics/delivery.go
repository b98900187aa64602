package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics records outbound delivery outcomes.
type DeliveryMetrics struct {
	attempts     *prometheus.CounterVec
	redeliveries prometheus.Counter
	duration     *prometheus.HistogramVec
}

// NewDeliveryMetrics registers the delivery metrics on the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_attempts_total",
		Help: "Outbound delivery attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})
	redeliveries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_redeliveries_total",
		Help: "Events re-sent by the retry worker.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_duration_seconds",
		Help:    "Duration of outbound delivery calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(attempts, redeliveries, duration)
	return &DeliveryMetrics{
		attempts:     attempts,
		redeliveries: redeliveries,
		duration:     duration,
	}
}

// IncAttempt increments the attempt counter for an event type and outcome.
func (d *DeliveryMetrics) IncAttempt(eventType, outcome string) {
	if d == nil || d.attempts == nil {
		return
	}
	d.attempts.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncRedelivery counts one retry-worker redelivery.
func (d *DeliveryMetrics) IncRedelivery() {
	if d == nil || d.redeliveries == nil {
		return
	}
	d.redeliveries.Inc()
}

// ObserveDuration records how long one delivery call took.
func (d *DeliveryMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if d == nil || d.duration == nil {
		return
	}
	d.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}
