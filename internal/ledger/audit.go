package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

const (
	LedgerWallet = "wallet"
	LedgerPoints = "points"
)

// AuditIssue is one break in a running-balance chain.
type AuditIssue struct {
	Seq      int64  `json:"seq"`
	Reason   string `json:"reason"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// AuditReport compares a stored balance with the chain of rows that produced it.
type AuditReport struct {
	OwnerID          uuid.UUID    `json:"owner_id"`
	Ledger           string       `json:"ledger"`
	Balance          int64        `json:"balance"`
	ComputedBalance  int64        `json:"computed_balance"`
	LifetimeCashback int64        `json:"lifetime_cashback,omitempty"`
	ComputedCashback int64        `json:"computed_cashback,omitempty"`
	Transactions     int          `json:"transactions"`
	Consistent       bool         `json:"consistent"`
	Issues           []AuditIssue `json:"issues,omitempty"`
}

type chainRow struct {
	seq          int64
	amount       int64
	balanceAfter int64
}

// verifyChain walks rows in seq order and checks that seq is contiguous from 1 and
// every balance_after equals the previous one plus amount.
func verifyChain(rows []chainRow) (int64, []AuditIssue) {
	var running int64
	var issues []AuditIssue
	for i, row := range rows {
		if want := int64(i + 1); row.seq != want {
			issues = append(issues, AuditIssue{Seq: row.seq, Reason: "sequence gap", Expected: want, Actual: row.seq})
		}
		running += row.amount
		if row.balanceAfter != running {
			issues = append(issues, AuditIssue{Seq: row.seq, Reason: "balance_after mismatch", Expected: running, Actual: row.balanceAfter})
		}
		if row.balanceAfter < 0 {
			issues = append(issues, AuditIssue{Seq: row.seq, Reason: "negative balance", Expected: 0, Actual: row.balanceAfter})
		}
	}
	return running, issues
}

func (s *service) AuditWallet(ctx context.Context, ownerID uuid.UUID) (*AuditReport, error) {
	report := &AuditReport{OwnerID: ownerID, Ledger: LedgerWallet}
	wallet, err := s.repo.FindWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		report.Consistent = true
		return report, nil
	}
	rows, err := s.repo.WalletChain(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	chain := make([]chainRow, 0, len(rows))
	var cashback int64
	for _, row := range rows {
		chain = append(chain, chainRow{seq: row.Seq, amount: row.Amount, balanceAfter: row.BalanceAfter})
		if row.Type == enums.WalletTxCashback {
			cashback += row.Amount
		}
	}
	computed, issues := verifyChain(chain)
	if computed != wallet.Balance {
		issues = append(issues, AuditIssue{Reason: "stored balance differs from chain", Expected: computed, Actual: wallet.Balance})
	}
	if cashback != wallet.LifetimeCashback {
		issues = append(issues, AuditIssue{Reason: "lifetime cashback differs from chain", Expected: cashback, Actual: wallet.LifetimeCashback})
	}
	report.Balance = wallet.Balance
	report.ComputedBalance = computed
	report.LifetimeCashback = wallet.LifetimeCashback
	report.ComputedCashback = cashback
	report.Transactions = len(rows)
	report.Issues = issues
	report.Consistent = len(issues) == 0
	return report, nil
}

func (s *service) AuditPoints(ctx context.Context, ownerID uuid.UUID) (*AuditReport, error) {
	report := &AuditReport{OwnerID: ownerID, Ledger: LedgerPoints}
	balance, err := s.repo.FindPoints(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		report.Consistent = true
		return report, nil
	}
	rows, err := s.repo.PointsChain(ctx, balance.ID)
	if err != nil {
		return nil, err
	}
	chain := make([]chainRow, 0, len(rows))
	for _, row := range rows {
		chain = append(chain, chainRow{seq: row.Seq, amount: row.Amount, balanceAfter: row.BalanceAfter})
	}
	computed, issues := verifyChain(chain)
	if computed != balance.Balance {
		issues = append(issues, AuditIssue{Reason: "stored balance differs from chain", Expected: computed, Actual: balance.Balance})
	}
	report.Balance = balance.Balance
	report.ComputedBalance = computed
	report.Transactions = len(rows)
	report.Issues = issues
	report.Consistent = len(issues) == 0
	return report, nil
}
