package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookLog stores every inbound gateway callback as received. Rows are never updated.
type WebhookLog struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Source     string          `gorm:"column:source;not null"`
	EventType  string          `gorm:"column:event_type;not null"`
	RefID      *string         `gorm:"column:ref_id;index"`
	IsValid    bool            `gorm:"column:is_valid;not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	RemoteAddr *string         `gorm:"column:remote_addr"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }

func (l *WebhookLog) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// PaymentEffect records that one side effect of a payment transition has fired.
// IdempotencyKey is "<ref_id>:<status>:<effect>".
type PaymentEffect struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;not null;uniqueIndex:ux_payment_effects_key"`
	RefID          string    `gorm:"column:ref_id;not null"`
	ExternalStatus string    `gorm:"column:external_status;not null"`
	Effect         string    `gorm:"column:effect;not null"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentEffect) TableName() string { return "payment_effects" }

func (e *PaymentEffect) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
