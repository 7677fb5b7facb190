package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Payment is one gateway payment attempt for an order.
type Payment struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	RefID         string              `gorm:"column:ref_id;not null;uniqueIndex"`
	ExternalTrxID *string             `gorm:"column:external_trx_id"`
	Status        enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	Amount        int64               `gorm:"column:amount;not null"`
	Fee           *int64              `gorm:"column:fee"`
	NetAmount     *int64              `gorm:"column:net_amount"`
	RawPayload    json.RawMessage     `gorm:"column:raw_payload;type:jsonb"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
