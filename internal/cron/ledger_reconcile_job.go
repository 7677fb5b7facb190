package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

const defaultReconcileWindow = 24 * time.Hour

type ledgerOwners interface {
	WalletOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	PointsOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type ledgerAuditor interface {
	AuditWallet(ctx context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error)
	AuditPoints(ctx context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error)
}

type LedgerReconcileJobParams struct {
	Logger  *logger.Logger
	Owners  ledgerOwners
	Auditor ledgerAuditor
	Metrics *metrics.LedgerMetrics
	// Window limits the audit to owners with ledger activity inside it.
	Window time.Duration
}

// NewLedgerReconcileJob builds the job that replays recently touched wallet
// and points chains and reports any drift from the stored balance.
func NewLedgerReconcileJob(params LedgerReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Owners == nil {
		return nil, fmt.Errorf("ledger owner source required")
	}
	if params.Auditor == nil {
		return nil, fmt.Errorf("ledger auditor required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultReconcileWindow
	}
	return &ledgerReconcileJob{
		logg:    params.Logger,
		owners:  params.Owners,
		auditor: params.Auditor,
		metrics: params.Metrics,
		window:  window,
		now:     time.Now,
	}, nil
}

type ledgerReconcileJob struct {
	logg    *logger.Logger
	owners  ledgerOwners
	auditor ledgerAuditor
	metrics *metrics.LedgerMetrics
	window  time.Duration
	now     func() time.Time
}

func (j *ledgerReconcileJob) Name() string { return "ledger-reconcile" }

func (j *ledgerReconcileJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	var errs error

	walletOwners, err := j.owners.WalletOwnersTouchedSince(ctx, since)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list wallet owners: %w", err))
	}
	drifted, err := j.audit(ctx, ledger.LedgerWallet, walletOwners, j.auditor.AuditWallet)
	errs = multierr.Append(errs, err)

	pointsOwners, err := j.owners.PointsOwnersTouchedSince(ctx, since)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list points owners: %w", err))
	}
	pointsDrifted, err := j.audit(ctx, ledger.LedgerPoints, pointsOwners, j.auditor.AuditPoints)
	errs = multierr.Append(errs, err)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"since":        since,
		"wallets":      len(walletOwners),
		"points":       len(pointsOwners),
		"wallet_drift": drifted,
		"points_drift": pointsDrifted,
	}), "ledger reconcile complete")
	if drifted+pointsDrifted > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d ledger chains drifted", drifted+pointsDrifted))
	}
	return errs
}

func (j *ledgerReconcileJob) audit(
	ctx context.Context,
	name string,
	owners []uuid.UUID,
	run func(context.Context, uuid.UUID) (*ledger.AuditReport, error),
) (int, error) {
	drifted := 0
	var errs error
	for _, owner := range owners {
		report, err := run(ctx, owner)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("audit %s %s: %w", name, owner, err))
			continue
		}
		j.metrics.IncChecked(name)
		if report.Consistent {
			continue
		}
		drifted++
		j.metrics.IncDrift(name)
		j.logg.Error(j.logg.WithFields(ctx, map[string]any{
			"ledger":           name,
			"owner_id":         owner.String(),
			"balance":          report.Balance,
			"computed_balance": report.ComputedBalance,
			"issues":           len(report.Issues),
		}), "ledger drift detected", nil)
	}
	return drifted, errs
}
