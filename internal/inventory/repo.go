package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Repository is the inventory store for pre-provisioned secrets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SoldForItem(ctx context.Context, orderItemID uuid.UUID) ([]models.StockItem, error)
	LockAvailable(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockItem, error)
	MarkSold(ctx context.Context, ids []uuid.UUID, orderID, orderItemID uuid.UUID, soldAt time.Time) (int64, error)
	CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) SoldForItem(ctx context.Context, orderItemID uuid.UUID) ([]models.StockItem, error) {
	var rows []models.StockItem
	err := r.DB(ctx).
		Where("order_item_id = ? AND status = ?", orderItemID, enums.StockStatusSold).
		Order("sold_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// LockAvailable takes the oldest AVAILABLE rows FOR UPDATE SKIP LOCKED, so two
// allocators for the same product never wait on or receive the same secret.
func (r *repository) LockAvailable(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockItem, error) {
	var rows []models.StockItem
	err := r.SkipLocked(ctx).
		Where("product_id = ? AND status = ?", productID, enums.StockStatusAvailable).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkSold flips rows that are still AVAILABLE; the caller compares the count.
func (r *repository) MarkSold(ctx context.Context, ids []uuid.UUID, orderID, orderItemID uuid.UUID, soldAt time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.StockItem{}).
		Where("id IN ? AND status = ?", ids, enums.StockStatusAvailable).
		Updates(map[string]any{
			"status":        enums.StockStatusSold,
			"order_id":      orderID,
			"order_item_id": orderItemID,
			"sold_at":       soldAt,
			"updated_at":    soldAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.StockItem{}).
		Where("product_id = ? AND status = ?", productID, enums.StockStatusAvailable).
		Count(&count).Error
	return count, err
}
