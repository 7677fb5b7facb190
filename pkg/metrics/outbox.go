package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks what the publisher did with each notification row.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	batches prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_errors_total",
			Help:      "Publisher batches rolled back by a bookkeeping error.",
		}),
	}
	reg.MustRegister(m.events, m.batches)
	return m
}

func (m *OutboxMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) IncBatchError() {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Inc()
}
