package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

type fakeLedger struct {
	walletOwners []uuid.UUID
	pointsOwners []uuid.UUID
	drifted      map[uuid.UUID]bool
	since        time.Time
}

func (f *fakeLedger) WalletOwnersTouchedSince(_ context.Context, since time.Time) ([]uuid.UUID, error) {
	f.since = since
	return f.walletOwners, nil
}

func (f *fakeLedger) PointsOwnersTouchedSince(context.Context, time.Time) ([]uuid.UUID, error) {
	return f.pointsOwners, nil
}

func (f *fakeLedger) AuditWallet(_ context.Context, owner uuid.UUID) (*ledger.AuditReport, error) {
	return f.report(owner, ledger.LedgerWallet), nil
}

func (f *fakeLedger) AuditPoints(_ context.Context, owner uuid.UUID) (*ledger.AuditReport, error) {
	return f.report(owner, ledger.LedgerPoints), nil
}

func (f *fakeLedger) report(owner uuid.UUID, name string) *ledger.AuditReport {
	if f.drifted[owner] {
		return &ledger.AuditReport{OwnerID: owner, Ledger: name, Balance: 100, ComputedBalance: 90}
	}
	return &ledger.AuditReport{OwnerID: owner, Ledger: name, Balance: 100, ComputedBalance: 100, Consistent: true}
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestLedgerReconcileReportsDrift(t *testing.T) {
	healthy, broken := uuid.New(), uuid.New()
	fake := &fakeLedger{
		walletOwners: []uuid.UUID{healthy, broken},
		pointsOwners: []uuid.UUID{healthy},
		drifted:      map[uuid.UUID]bool{broken: true},
	}
	reg := prometheus.NewRegistry()
	job, err := NewLedgerReconcileJob(LedgerReconcileJobParams{
		Logger:  logger.Nop(),
		Owners:  fake,
		Auditor: fake,
		Metrics: metrics.NewLedgerMetrics(reg),
		Window:  2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewLedgerReconcileJob: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job.(*ledgerReconcileJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected drift to fail the job")
	}
	if !fake.since.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("unexpected window start %s", fake.since)
	}
	if got := gatherValue(t, reg, "keydrop_ledger_accounts_checked_total", map[string]string{"ledger": "wallet"}); got != 2 {
		t.Fatalf("expected 2 wallets checked, got %v", got)
	}
	if got := gatherValue(t, reg, "keydrop_ledger_drift_detected_total", map[string]string{"ledger": "wallet"}); got != 1 {
		t.Fatalf("expected 1 wallet drift, got %v", got)
	}
	if got := gatherValue(t, reg, "keydrop_ledger_accounts_checked_total", map[string]string{"ledger": "points"}); got != 1 {
		t.Fatalf("expected 1 points account checked, got %v", got)
	}
}

func TestLedgerReconcileCleanRun(t *testing.T) {
	owner := uuid.New()
	fake := &fakeLedger{walletOwners: []uuid.UUID{owner}, pointsOwners: []uuid.UUID{owner}}
	job, err := NewLedgerReconcileJob(LedgerReconcileJobParams{Logger: logger.Nop(), Owners: fake, Auditor: fake})
	if err != nil {
		t.Fatalf("NewLedgerReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

type fakeUnavailable struct {
	counts []providers.UnavailableCount
	err    error
}

func (f *fakeUnavailable) Unavailable(context.Context) ([]providers.UnavailableCount, error) {
	return f.counts, f.err
}

func TestProviderAvailabilityResetsRecoveredProviders(t *testing.T) {
	reg := prometheus.NewRegistry()
	source := &fakeUnavailable{counts: []providers.UnavailableCount{
		{ProviderSlug: "github", Reason: providers.ReasonCooldown, Count: 2},
	}}
	job, err := NewProviderAvailabilityJob(ProviderAvailabilityJobParams{
		Logger:   logger.Nop(),
		Registry: source,
		Metrics:  metrics.NewFulfillmentMetrics(reg),
	})
	if err != nil {
		t.Fatalf("NewProviderAvailabilityJob: %v", err)
	}
	labels := map[string]string{"provider": "github", "reason": providers.ReasonCooldown}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := gatherValue(t, reg, "keydrop_providers_accounts_unavailable", labels); got != 2 {
		t.Fatalf("expected gauge 2, got %v", got)
	}

	source.counts = nil
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := gatherValue(t, reg, "keydrop_providers_accounts_unavailable", labels); got != 0 {
		t.Fatalf("expected gauge reset to 0, got %v", got)
	}

	source.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeExpirer struct {
	batches []int
	err     error
	calls   int
	ttl     time.Duration
	limit   int
}

func (f *fakeExpirer) ExpireStale(_ context.Context, ttl time.Duration, limit int) (int, error) {
	f.ttl, f.limit = ttl, limit
	if f.calls >= len(f.batches) {
		f.calls++
		return 0, f.err
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func TestPaymentExpiryDrainsFullBatches(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{2, 2, 1}}
	job, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:    logger.Nop(),
		Expirer:   expirer,
		TTL:       6 * time.Hour,
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("NewPaymentExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expirer.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", expirer.calls)
	}
	if expirer.ttl != 6*time.Hour || expirer.limit != 2 {
		t.Fatalf("unexpected ttl %v limit %d", expirer.ttl, expirer.limit)
	}
}

func TestPaymentExpiryStopsOnError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("boom")}
	job, _ := NewPaymentExpiryJob(PaymentExpiryJobParams{Logger: logger.Nop(), Expirer: expirer})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if expirer.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", expirer.calls)
	}
}
