package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics reports reconciliation results.
type LedgerMetrics struct {
	checked *prometheus.CounterVec
	drift   *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		checked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "accounts_checked_total",
			Help:      "Wallet and points accounts verified by reconciliation.",
		}, []string{"ledger"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "drift_detected_total",
			Help:      "Accounts whose balance disagrees with their transaction chain.",
		}, []string{"ledger"}),
	}
	reg.MustRegister(m.checked, m.drift)
	return m
}

func (m *LedgerMetrics) IncChecked(ledger string) {
	if m == nil || m.checked == nil {
		return
	}
	m.checked.WithLabelValues(normalizeLabel(ledger)).Inc()
}

func (m *LedgerMetrics) IncDrift(ledger string) {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.WithLabelValues(normalizeLabel(ledger)).Inc()
}
