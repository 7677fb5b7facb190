package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// FulfillmentJob delivers exactly one order item.
type FulfillmentJob struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID       *uuid.UUID            `gorm:"column:order_item_id;type:uuid;uniqueIndex"`
	JobType           enums.FulfillmentType `gorm:"column:job_type;type:text;not null"`
	Status            enums.JobStatus       `gorm:"column:status;type:text;not null"`
	Attempts          int                   `gorm:"column:attempts;not null;default:0"`
	MaxAttempts       int                   `gorm:"column:max_attempts;not null;default:3"`
	NextRetryAt       *time.Time            `gorm:"column:next_retry_at"`
	StartedAt         *time.Time            `gorm:"column:started_at"`
	CompletedAt       *time.Time            `gorm:"column:completed_at"`
	LastError         *string               `gorm:"column:last_error"`
	ProviderAccountID *uuid.UUID            `gorm:"column:provider_account_id;type:uuid"`
	Result            json.RawMessage       `gorm:"column:result;type:jsonb"`
	ClaimedBy         *string               `gorm:"column:claimed_by"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (FulfillmentJob) TableName() string { return "fulfillment_jobs" }

func (j *FulfillmentJob) BeforeCreate(*gorm.DB) error {
	ensureID(&j.ID)
	return nil
}
