package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// OutboxEvent is a notification written in the same transaction as the state change it describes.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null;uniqueIndex:ux_outbox_events_event_aggregate,priority:1"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;uniqueIndex:ux_outbox_events_event_aggregate,priority:2"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt *time.Time                `gorm:"column:next_attempt_at"`
	LastError     *string                   `gorm:"column:last_error"`
	Terminal      bool                      `gorm:"column:terminal;not null;default:false"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
