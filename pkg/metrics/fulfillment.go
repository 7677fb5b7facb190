package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded by FulfillmentMetrics.
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

// FulfillmentMetrics covers the job worker and the provider accounts it drives.
type FulfillmentMetrics struct {
	jobs             *prometheus.CounterVec
	dispatch         *prometheus.HistogramVec
	claimed          prometheus.Counter
	accountCooldowns *prometheus.CounterVec
	accountsBlocked  *prometheus.GaugeVec
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	m := &FulfillmentMetrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "jobs_total",
			Help:      "Fulfillment job attempts by type and outcome.",
		}, []string{"job_type", "outcome"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent allocating stock or calling providers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by this worker.",
		}),
		accountCooldowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "account_cooldowns_total",
			Help:      "Provider accounts placed into cooldown after a failed dispatch.",
		}, []string{"provider"}),
		accountsBlocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "accounts_unavailable",
			Help:      "Active provider accounts currently unusable, by reason.",
		}, []string{"provider", "reason"}),
	}
	reg.MustRegister(m.jobs, m.dispatch, m.claimed, m.accountCooldowns, m.accountsBlocked)
	return m
}

func (m *FulfillmentMetrics) ObserveJob(jobType, outcome string, duration time.Duration) {
	if m == nil || m.jobs == nil {
		return
	}
	m.jobs.WithLabelValues(normalizeLabel(jobType), normalizeLabel(outcome)).Inc()
	m.dispatch.WithLabelValues(normalizeLabel(jobType)).Observe(duration.Seconds())
}

func (m *FulfillmentMetrics) AddClaimed(n int) {
	if m == nil || m.claimed == nil || n <= 0 {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *FulfillmentMetrics) IncCooldown(provider string) {
	if m == nil || m.accountCooldowns == nil {
		return
	}
	m.accountCooldowns.WithLabelValues(normalizeLabel(provider)).Inc()
}

// SetUnavailable reports how many accounts are in cooldown or at capacity.
func (m *FulfillmentMetrics) SetUnavailable(provider, reason string, count int) {
	if m == nil || m.accountsBlocked == nil {
		return
	}
	m.accountsBlocked.WithLabelValues(normalizeLabel(provider), normalizeLabel(reason)).Set(float64(count))
}
