package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
)

// Settlement is what a PAID callback writes onto the payment row.
type Settlement struct {
	Gross         *int64
	ExternalTrxID *string
	Fee           *int64
	NetAmount     *int64
	RawPayload    json.RawMessage
	PaidAt        time.Time
}

// Repository persists webhook logs, payments and the payment effect ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LogCallback(ctx context.Context, entry *models.WebhookLog) error
	FindPaymentByRef(ctx context.Context, refID string) (*models.Payment, error)
	MarkPaid(ctx context.Context, paymentID uuid.UUID, s Settlement) (bool, error)
	MarkClosed(ctx context.Context, paymentID uuid.UUID, status enums.PaymentStatus, raw json.RawMessage) (bool, error)
	ClaimEffect(ctx context.Context, effect *models.PaymentEffect) (bool, error)
	HasEffect(ctx context.Context, key string) (bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
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

func (r *repository) LogCallback(ctx context.Context, entry *models.WebhookLog) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) FindPaymentByRef(ctx context.Context, refID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).Where("ref_id = ?", refID).First(&payment).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "payment %s not found", refID)
		}
		return nil, err
	}
	return &payment, nil
}

// MarkPaid settles a payment that is not already PAID.
func (r *repository) MarkPaid(ctx context.Context, paymentID uuid.UUID, s Settlement) (bool, error) {
	updates := map[string]any{
		"status":      enums.PaymentStatusPaid,
		"paid_at":     s.PaidAt,
		"raw_payload": s.RawPayload,
		"updated_at":  s.PaidAt,
	}
	if s.Gross != nil {
		updates["amount"] = *s.Gross
	}
	if s.ExternalTrxID != nil {
		updates["external_trx_id"] = *s.ExternalTrxID
	}
	if s.Fee != nil {
		updates["fee"] = *s.Fee
	}
	if s.NetAmount != nil {
		updates["net_amount"] = *s.NetAmount
	}
	res := r.DB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status <> ?", paymentID, enums.PaymentStatusPaid).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkClosed moves a PENDING payment to EXPIRED or FAILED.
func (r *repository) MarkClosed(ctx context.Context, paymentID uuid.UUID, status enums.PaymentStatus, raw json.RawMessage) (bool, error) {
	res := r.DB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":      status,
			"raw_payload": raw,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimEffect inserts the effect key and reports whether this call owns it.
// A concurrent claimer blocks on the unique index until the owner commits.
func (r *repository) ClaimEffect(ctx context.Context, effect *models.PaymentEffect) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(effect)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) HasEffect(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.PaymentEffect{}).Where("idempotency_key = ?", key).Count(&count).Error
	return count > 0, err
}

// ListStalePending returns PENDING payments created before cutoff, oldest first.
func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
