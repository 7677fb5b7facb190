package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Repository persists orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (int64, error)
	MarkItemDelivered(ctx context.Context, itemID uuid.UUID, data json.RawMessage, at time.Time) (int64, error)
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

// Create inserts the order and its items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.DB(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Preload("Items.Product").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.DB(ctx).Preload("Product").Where("id = ?", itemID).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.DB(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Order("id ASC").Find(&items).Error
	return items, err
}

// UpdateStatus is the only status writer: it matches the allowed sources so
// concurrent writers race on the row and exactly one sees RowsAffected == 1.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (int64, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.DB(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	return res.RowsAffected, res.Error
}

// MarkItemDelivered records delivery once; a second call matches nothing.
func (r *repository) MarkItemDelivered(ctx context.Context, itemID uuid.UUID, data json.RawMessage, at time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.OrderItem{}).
		Where("id = ? AND delivered_at IS NULL", itemID).
		Updates(map[string]any{
			"delivery_data": string(data),
			"delivered_at":  at,
			"updated_at":    at,
		})
	return res.RowsAffected, res.Error
}
