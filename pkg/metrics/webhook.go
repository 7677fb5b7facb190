package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics tracks gateway callbacks.
type WebhookMetrics struct {
	callbacks         *prometheus.CounterVec
	invalidSignatures prometheus.Counter
	alerts            prometheus.Counter
	effectFailures    *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	m := &WebhookMetrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "callbacks_total",
			Help:      "Gateway callbacks by mapped payment status and result.",
		}, []string{"status", "result"}),
		invalidSignatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "invalid_signatures_total",
			Help:      "Gateway callbacks rejected for a bad signature.",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "invalid_signature_alerts_total",
			Help:      "Windows in which invalid signatures crossed the alert threshold.",
		}),
		effectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "side_effect_failures_total",
			Help:      "Payment side effects that failed and were left for redelivery.",
		}, []string{"effect"}),
	}
	reg.MustRegister(m.callbacks, m.invalidSignatures, m.alerts, m.effectFailures)
	return m
}

func (m *WebhookMetrics) IncCallback(status, result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(status), normalizeLabel(result)).Inc()
}

func (m *WebhookMetrics) IncInvalidSignature() {
	if m == nil || m.invalidSignatures == nil {
		return
	}
	m.invalidSignatures.Inc()
}

func (m *WebhookMetrics) IncAlert() {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.Inc()
}

func (m *WebhookMetrics) IncEffectFailure(effect string) {
	if m == nil || m.effectFailures == nil {
		return
	}
	m.effectFailures.WithLabelValues(normalizeLabel(effect)).Inc()
}
