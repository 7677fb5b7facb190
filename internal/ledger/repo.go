package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

// Repository persists wallet and points ledgers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	LockPoints(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error)
	LastWalletSeq(ctx context.Context, walletID uuid.UUID) (int64, error)
	LastPointsSeq(ctx context.Context, balanceID uuid.UUID) (int64, error)
	InsertWalletTransaction(ctx context.Context, row *models.WalletTransaction) error
	InsertPointsTransaction(ctx context.Context, row *models.PointsTransaction) error
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
	SavePoints(ctx context.Context, balance *models.PointsBalance) error
	FindWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	FindPoints(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]models.WalletTransaction, error)
	WalletChain(ctx context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error)
	PointsChain(ctx context.Context, balanceID uuid.UUID) ([]models.PointsTransaction, error)
	WalletOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	PointsOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// LockWallet creates the wallet on first use and returns it locked FOR UPDATE.
func (r *repository) LockWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	seed := models.Wallet{OwnerID: ownerID}
	if err := r.DB(ctx).Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var wallet models.Wallet
	if err := r.ForUpdate(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockPoints(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error) {
	seed := models.PointsBalance{OwnerID: ownerID}
	if err := r.DB(ctx).Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var balance models.PointsBalance
	if err := r.ForUpdate(ctx).Where("owner_id = ?", ownerID).First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) LastWalletSeq(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var seq int64
	err := r.DB(ctx).Model(&models.WalletTransaction{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}

func (r *repository) LastPointsSeq(ctx context.Context, balanceID uuid.UUID) (int64, error) {
	var seq int64
	err := r.DB(ctx).Model(&models.PointsTransaction{}).
		Where("balance_id = ?", balanceID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}

func (r *repository) InsertWalletTransaction(ctx context.Context, row *models.WalletTransaction) error {
	return r.DB(ctx).Create(row).Error
}

func (r *repository) InsertPointsTransaction(ctx context.Context, row *models.PointsTransaction) error {
	return r.DB(ctx).Create(row).Error
}

func (r *repository) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.DB(ctx).Model(&models.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"balance":           wallet.Balance,
			"lifetime_cashback": wallet.LifetimeCashback,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) SavePoints(ctx context.Context, balance *models.PointsBalance) error {
	return r.DB(ctx).Model(&models.PointsBalance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]any{
			"balance":    balance.Balance,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) FindWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.DB(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindPoints(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error) {
	var balance models.PointsBalance
	err := r.DB(ctx).Where("owner_id = ?", ownerID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListWalletTransactions pages newest first. beforeSeq of 0 starts at the head.
func (r *repository) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]models.WalletTransaction, error) {
	q := r.DB(ctx).Where("wallet_id = ?", walletID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}
	var rows []models.WalletTransaction
	err := q.Order("seq DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) WalletChain(ctx context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.DB(ctx).Where("wallet_id = ?", walletID).Order("seq ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) PointsChain(ctx context.Context, balanceID uuid.UUID) ([]models.PointsTransaction, error) {
	var rows []models.PointsTransaction
	err := r.DB(ctx).Where("balance_id = ?", balanceID).Order("seq ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) WalletOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	err := r.DB(ctx).Model(&models.WalletTransaction{}).
		Where("created_at >= ?", since).
		Distinct("owner_id").
		Pluck("owner_id", &owners).Error
	return owners, err
}

func (r *repository) PointsOwnersTouchedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	err := r.DB(ctx).Model(&models.PointsTransaction{}).
		Where("created_at >= ?", since).
		Distinct("owner_id").
		Pluck("owner_id", &owners).Error
	return owners, err
}
