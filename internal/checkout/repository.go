package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

// Repository exposes the catalog reads and payment writes order placement needs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
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

func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.DB(ctx).Create(payment).Error
}
