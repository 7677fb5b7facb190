package auth

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

// Repository persists resellers.
type Repository interface {
	FindByPrefix(ctx context.Context, prefix string) (*models.Reseller, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reseller, error)
	Create(ctx context.Context, reseller *models.Reseller) error
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) FindByPrefix(ctx context.Context, prefix string) (*models.Reseller, error) {
	var reseller models.Reseller
	if err := r.DB(ctx).Where("api_key_prefix = ?", prefix).First(&reseller).Error; err != nil {
		return nil, err
	}
	return &reseller, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reseller, error) {
	var reseller models.Reseller
	if err := r.DB(ctx).Where("id = ?", id).First(&reseller).Error; err != nil {
		return nil, err
	}
	return &reseller, nil
}

func (r *repository) Create(ctx context.Context, reseller *models.Reseller) error {
	return r.DB(ctx).Create(reseller).Error
}
