package providers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

// UnavailableCount is the number of active accounts per provider that cannot take work.
type UnavailableCount struct {
	ProviderSlug string
	Reason       string
	Count        int64
}

const (
	ReasonCooldown = "cooldown"
	ReasonCapacity = "capacity"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	FindProvider(ctx context.Context, providerID uuid.UUID) (*models.Provider, error)
	FindProviderBySlug(ctx context.Context, slug string) (*models.Provider, error)
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.ProviderAccount, error)
	SelectAvailableAccount(ctx context.Context, providerID uuid.UUID, now time.Time, exclude []uuid.UUID) (*models.ProviderAccount, error)
	CreateAccount(ctx context.Context, account *models.ProviderAccount) error
	SetCooldown(ctx context.Context, accountID uuid.UUID, until time.Time, lastError string) error
	IncrementUsage(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)
	DecrementUsage(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)
	ResetAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)
	UnavailableCounts(ctx context.Context, now time.Time) ([]UnavailableCount, error)
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

func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.DB(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindProvider(ctx context.Context, providerID uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	if err := r.DB(ctx).Where("id = ?", providerID).First(&provider).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) FindProviderBySlug(ctx context.Context, slug string) (*models.Provider, error) {
	var provider models.Provider
	if err := r.DB(ctx).Where("slug = ?", slug).First(&provider).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	if err := r.DB(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// SelectAvailableAccount picks the least used eligible account outside
// exclude, nil when none. It takes no lock; the usage CAS in IncrementUsage
// settles races.
func (r *repository) SelectAvailableAccount(ctx context.Context, providerID uuid.UUID, now time.Time, exclude []uuid.UUID) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	query := r.DB(ctx)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	err := query.
		Where("provider_id = ? AND is_active = ?", providerID, true).
		Where("cooldown_until IS NULL OR cooldown_until <= ?", now).
		Where("capacity IS NULL OR current_usage < capacity").
		Order("current_usage ASC").
		Order("created_at ASC").
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *models.ProviderAccount) error {
	return r.DB(ctx).Create(account).Error
}

func (r *repository) SetCooldown(ctx context.Context, accountID uuid.UUID, until time.Time, lastError string) error {
	return r.DB(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"cooldown_until": until,
			"last_error":     lastError,
		}).Error
}

// IncrementUsage bumps current_usage only while the account is under capacity.
func (r *repository) IncrementUsage(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProviderAccount{}).
		Where("id = ? AND is_active = ? AND (capacity IS NULL OR current_usage < capacity)", accountID, true).
		Updates(map[string]any{
			"current_usage": gorm.Expr("current_usage + 1"),
			"last_used_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

// DecrementUsage gives back one reserved slot, never going below zero.
func (r *repository) DecrementUsage(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProviderAccount{}).
		Where("id = ? AND current_usage > 0", accountID).
		Updates(map[string]any{
			"current_usage": gorm.Expr("current_usage - 1"),
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ResetAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"current_usage":  0,
			"cooldown_until": nil,
			"last_error":     nil,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) UnavailableCounts(ctx context.Context, now time.Time) ([]UnavailableCount, error) {
	var cooldown []UnavailableCount
	err := r.DB(ctx).Table("provider_accounts AS pa").
		Select("p.slug AS provider_slug, ? AS reason, COUNT(*) AS count", ReasonCooldown).
		Joins("JOIN providers p ON p.id = pa.provider_id").
		Where("pa.is_active = ? AND pa.cooldown_until > ?", true, now).
		Group("p.slug").
		Scan(&cooldown).Error
	if err != nil {
		return nil, err
	}

	var capacity []UnavailableCount
	err = r.DB(ctx).Table("provider_accounts AS pa").
		Select("p.slug AS provider_slug, ? AS reason, COUNT(*) AS count", ReasonCapacity).
		Joins("JOIN providers p ON p.id = pa.provider_id").
		Where("pa.is_active = ? AND pa.capacity IS NOT NULL AND pa.current_usage >= pa.capacity", true).
		Group("p.slug").
		Scan(&capacity).Error
	if err != nil {
		return nil, err
	}
	return append(cooldown, capacity...), nil
}
