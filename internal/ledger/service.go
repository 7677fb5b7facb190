package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

// Entry is one wallet movement. Amount is always positive; the method picks the sign.
type Entry struct {
	OwnerID     uuid.UUID
	Amount      int64
	Type        enums.WalletTransactionType
	OrderID     *uuid.UUID
	Description string
}

// PointsEntry is one loyalty points movement. REDEEM debits, every other type credits.
type PointsEntry struct {
	OwnerID     uuid.UUID
	Amount      int64
	Type        enums.PointsTransactionType
	OrderID     *uuid.UUID
	Description string
}

// Service is the only writer of wallet and points balances.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error)
	ApplyPoints(ctx context.Context, tx *gorm.DB, entry PointsEntry) (*models.PointsTransaction, error)
	Wallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	Points(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error)
	AuditWallet(ctx context.Context, ownerID uuid.UUID) (*AuditReport, error)
	AuditPoints(ctx context.Context, ownerID uuid.UUID) (*AuditReport, error)
}

type service struct {
	db   dbpkg.TxRunner
	repo Repository
	logg *logger.Logger
}

// NewService wires a ledger service with the provided repository.
func NewService(db dbpkg.TxRunner, repo Repository, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{db: db, repo: repo, logg: logg}, nil
}

var creditTypes = map[enums.WalletTransactionType]bool{
	enums.WalletTxTopup:      true,
	enums.WalletTxCashback:   true,
	enums.WalletTxRefund:     true,
	enums.WalletTxAdjustment: true,
}

var debitTypes = map[enums.WalletTransactionType]bool{
	enums.WalletTxPurchase:   true,
	enums.WalletTxAdjustment: true,
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error) {
	if !creditTypes[entry.Type] {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s cannot credit a wallet", entry.Type)
	}
	return s.applyWallet(ctx, tx, entry, entry.Amount)
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error) {
	if !debitTypes[entry.Type] {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s cannot debit a wallet", entry.Type)
	}
	return s.applyWallet(ctx, tx, entry, -entry.Amount)
}

// applyWallet locks the wallet row, appends the next row of the chain and
// moves the balance, all inside one transaction.
func (s *service) applyWallet(ctx context.Context, tx *gorm.DB, entry Entry, delta int64) (*models.WalletTransaction, error) {
	if entry.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet owner is required")
	}
	if entry.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var row *models.WalletTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.LockWallet(ctx, entry.OwnerID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		next := wallet.Balance + delta
		if next < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance too low").
				WithDetails(map[string]int64{"balance": wallet.Balance, "required": -delta})
		}
		seq, err := repo.LastWalletSeq(ctx, wallet.ID)
		if err != nil {
			return err
		}
		row = &models.WalletTransaction{
			WalletID:     wallet.ID,
			OwnerID:      wallet.OwnerID,
			Seq:          seq + 1,
			Amount:       delta,
			BalanceAfter: next,
			Type:         entry.Type,
			OrderID:      entry.OrderID,
			Description:  entry.Description,
		}
		if err := repo.InsertWalletTransaction(ctx, row); err != nil {
			return fmt.Errorf("append wallet transaction: %w", err)
		}
		wallet.Balance = next
		if entry.Type == enums.WalletTxCashback {
			wallet.LifetimeCashback += entry.Amount
		}
		return repo.SaveWallet(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"owner_id":      entry.OwnerID.String(),
		"type":          entry.Type,
		"amount":        delta,
		"balance_after": row.BalanceAfter,
		"seq":           row.Seq,
	})
	s.logg.Info(logCtx, "wallet ledger appended")
	return row, nil
}

func (s *service) ApplyPoints(ctx context.Context, tx *gorm.DB, entry PointsEntry) (*models.PointsTransaction, error) {
	if entry.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points owner is required")
	}
	if entry.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points amount must be positive")
	}
	if !entry.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid points type %q", entry.Type)
	}
	delta := entry.Amount
	if entry.Type == enums.PointsTxRedeem {
		delta = -entry.Amount
	}

	var row *models.PointsTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		balance, err := repo.LockPoints(ctx, entry.OwnerID)
		if err != nil {
			return fmt.Errorf("lock points: %w", err)
		}
		next := balance.Balance + delta
		if next < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "not enough points").
				WithDetails(map[string]int64{"balance": balance.Balance, "required": entry.Amount})
		}
		seq, err := repo.LastPointsSeq(ctx, balance.ID)
		if err != nil {
			return err
		}
		row = &models.PointsTransaction{
			BalanceID:    balance.ID,
			OwnerID:      balance.OwnerID,
			Seq:          seq + 1,
			Amount:       delta,
			BalanceAfter: next,
			Type:         entry.Type,
			OrderID:      entry.OrderID,
			Description:  entry.Description,
		}
		if err := repo.InsertPointsTransaction(ctx, row); err != nil {
			return fmt.Errorf("append points transaction: %w", err)
		}
		balance.Balance = next
		return repo.SavePoints(ctx, balance)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Wallet returns a zero wallet when the owner never transacted.
func (s *service) Wallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.FindWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &models.Wallet{OwnerID: ownerID}, nil
	}
	return wallet, nil
}

func (s *service) Points(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error) {
	balance, err := s.repo.FindPoints(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &models.PointsBalance{OwnerID: ownerID}, nil
	}
	return balance, nil
}

func (s *service) ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error) {
	page := pagination.Page[models.WalletTransaction]{Items: []models.WalletTransaction{}}
	beforeSeq, err := pagination.ParseSeqCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	wallet, err := s.repo.FindWallet(ctx, ownerID)
	if err != nil || wallet == nil {
		return page, err
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListWalletTransactions(ctx, wallet.ID, beforeSeq, limit+1)
	if err != nil {
		return page, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
		page.NextCursor = pagination.EncodeSeqCursor(rows[len(rows)-1].Seq)
	}
	page.Items = rows
	return page, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithTx(ctx, fn)
}
