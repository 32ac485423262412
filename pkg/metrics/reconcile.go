package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records outcomes of reconciliation attempts across the
// three entry points.
type ReconcileMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Duration of reconciliation attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Reconciliation attempts by source and outcome.",
	}, []string{"source", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by event type and disposition.",
	}, []string{"event", "disposition"})
	reg.MustRegister(duration, outcomes, webhooks)
	return &ReconcileMetrics{
		duration: duration,
		outcomes: outcomes,
		webhooks: webhooks,
	}
}

// ObserveDuration records the duration of one reconciliation attempt.
func (m *ReconcileMetrics) ObserveDuration(source string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(duration.Seconds())
}

// IncOutcome increments the counter for a reconciliation outcome.
func (m *ReconcileMetrics) IncOutcome(source, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncWebhook increments the counter for a webhook disposition.
func (m *ReconcileMetrics) IncWebhook(event, disposition string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(disposition)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
